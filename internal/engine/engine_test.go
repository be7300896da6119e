package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_StartRequiresFullscreen(t *testing.T) {
	h := newHarness(mustTest(2, 5, 1), DefaultPolicy())

	ok := h.engine.Start(errors.New("permission denied"))

	assert.False(t, ok)
	v := h.engine.View()
	assert.Equal(t, PhaseNotStarted, v.Phase)
	assert.Nil(t, v.Question, "no question content before start")
	assert.Empty(t, v.Grid)
	assert.Equal(t, InteractionConsentRequired, v.Interaction.Kind)
	assert.Equal(t, "01:00", v.Clock)
	assert.Len(t, h.events.ofType(EventNotice), 1)

	require.True(t, h.engine.Start(nil))
	v = h.engine.View()
	assert.Equal(t, PhaseInProgress, v.Phase)
	require.NotNil(t, v.Question)
	assert.Equal(t, StatusVisitedUnanswered, v.Grid[0].Status)
	assert.Equal(t, InteractionNone, v.Interaction.Kind)
}

func TestEngine_NothingIsAnswerableBeforeStart(t *testing.T) {
	h := newHarness(mustTest(1, 2, 1), DefaultPolicy())

	assert.False(t, h.engine.SelectOption(0))
	assert.False(t, h.engine.NextQuestion())
	assert.False(t, h.engine.Submit(ReasonManual))
	assert.Equal(t, TimeoutIgnored, h.engine.OnSectionTimeout())
	assert.Zero(t, h.submitter.Count())
}

func TestEngine_SectionTimeoutsAdvanceThenSubmit(t *testing.T) {
	h := startedHarness(mustTest(2, 5, 1))
	first := h.engine.Test().Sections[0].Questions[0].ID

	require.True(t, h.engine.SelectOption(2))
	h.tickTo(30 * time.Second)
	assert.Equal(t, 0, h.engine.State().SectionIndex)

	h.tickTo(30 * time.Second)
	st := h.engine.State()
	assert.Equal(t, 1, st.SectionIndex)
	assert.Equal(t, 0, st.QuestionIndex)
	assert.True(t, st.SectionLocked[0])
	assert.Equal(t, 60, st.TotalActiveSeconds)
	assert.False(t, h.engine.store.SetAnswer(first, 0), "answers of a locked section are frozen")

	advanced := h.events.ofType(EventSectionAdvanced)
	require.Len(t, advanced, 1)
	assert.Equal(t, ReasonTimeout, advanced[0].Reason)
	assert.Equal(t, 60, h.engine.View().RemainingSeconds)

	h.tickTo(60 * time.Second)
	require.Equal(t, PhaseSubmitted, h.engine.State().Phase)

	sub := h.engine.Submission()
	require.NotNil(t, sub)
	assert.Equal(t, ReasonTimeout, sub.Reason)
	assert.Equal(t, 120, sub.Payload.TimeTaken)
	assert.True(t, sub.Payload.AutoSubmission.IsAutoSubmitted)
	assert.Len(t, sub.Payload.SelectedAnswers, 10)
	assert.Equal(t, 3, sub.Payload.SelectedAnswers[0].SelectedOption)
	assert.Equal(t, 1, h.submitter.Count())

	h.tickTo(60 * time.Second)
	assert.Equal(t, 1, h.submitter.Count(), "an expired timer never fires again")
}

func TestEngine_LateTickExpiresImmediately(t *testing.T) {
	h := startedHarness(mustTest(1, 1, 1))

	h.tickTo(5 * time.Minute)

	require.Equal(t, PhaseSubmitted, h.engine.State().Phase)
	assert.Equal(t, 60, h.engine.Submission().Payload.TimeTaken, "elapsed time is capped at the section duration")
}

func TestEngine_ThreeTabSwitchesAutoSubmit(t *testing.T) {
	h := startedHarness(mustTest(2, 3, 10))

	v := h.tabSwitch(2 * time.Second)
	assert.True(t, v.Warn)
	assert.False(t, v.Final)
	p := h.engine.Pending()
	assert.Equal(t, InteractionStrikeWarning, p.Kind)
	assert.Equal(t, 1, p.Strikes)
	require.True(t, h.engine.Resume(nil))

	v = h.tabSwitch(2 * time.Second)
	assert.True(t, v.Final)
	p = h.engine.Pending()
	assert.True(t, p.IsFinal)
	assert.Contains(t, p.Message, "final warning")
	require.True(t, h.engine.Resume(nil))

	v = h.tabSwitch(2 * time.Second)
	assert.True(t, v.AutoSubmit)
	assert.False(t, v.Warn)

	st := h.engine.State()
	assert.Equal(t, PhaseSubmitted, st.Phase)
	assert.True(t, st.ControlsLocked)

	sub := h.engine.Submission()
	require.NotNil(t, sub)
	assert.Equal(t, ReasonViolation, sub.Reason)
	assert.Equal(t, 3, sub.Payload.AutoSubmission.TabSwitches)
	assert.True(t, sub.Payload.AutoSubmission.IsAutoSubmitted)
	assert.Equal(t, 6, sub.Payload.TimeTaken)
	assert.Equal(t, 1, h.submitter.Count())
	assert.Len(t, h.events.ofType(EventViolation), 3)

	v = h.tabSwitch(2 * time.Second)
	assert.False(t, v.Counted)
	assert.Equal(t, 1, h.submitter.Count())
}

func TestEngine_CooldownCollapsesSignalBursts(t *testing.T) {
	t.Run("within cooldown", func(t *testing.T) {
		h := startedHarness(mustTest(1, 1, 10))
		h.tabSwitch(0)
		h.engine.HandleSignal(Signal{Event: SignalVisibilityChange, Hidden: true, At: h.clock.Advance(500 * time.Millisecond)})
		assert.Equal(t, 1, h.engine.State().Strikes)
	})

	t.Run("after cooldown", func(t *testing.T) {
		h := startedHarness(mustTest(1, 1, 10))
		h.tabSwitch(0)
		h.tabSwitch(1500 * time.Millisecond)
		assert.Equal(t, 2, h.engine.State().Strikes)
	})
}

func TestEngine_StrikeWarningPausesInput(t *testing.T) {
	h := startedHarness(mustTest(1, 3, 10))
	h.tabSwitch(time.Second)

	assert.False(t, h.engine.NextQuestion())
	assert.False(t, h.engine.SelectOption(0))
	assert.False(t, h.engine.RequestSubmit())

	assert.False(t, h.engine.Resume(errors.New("fullscreen denied")))
	assert.Equal(t, InteractionStrikeWarning, h.engine.Pending().Kind)

	require.True(t, h.engine.Resume(nil))
	assert.True(t, h.engine.NextQuestion())
	assert.True(t, h.engine.SelectOption(0))
}

func TestEngine_BlockedSignalsNeverStrike(t *testing.T) {
	h := startedHarness(mustTest(1, 1, 10))

	for _, ev := range []string{SignalCopy, SignalPaste, SignalCut, SignalContextMenu} {
		v := h.engine.HandleSignal(Signal{Event: ev})
		assert.True(t, v.Blocked, ev)
		assert.False(t, v.Counted, ev)
	}
	h.engine.HandleSignal(Signal{Event: SignalFocus})
	h.engine.HandleSignal(Signal{Event: SignalFullscreenChange, Fullscreen: true})

	assert.Zero(t, h.engine.State().Strikes)
	assert.Len(t, h.events.ofType(EventNotice), 4)
	assert.Equal(t, InteractionNone, h.engine.Pending().Kind)
}

func TestEngine_SubmitIsIdempotent(t *testing.T) {
	h := startedHarness(mustTest(1, 4, 10))
	h.engine.SelectOption(1)

	require.True(t, h.engine.RequestSubmit())
	assert.Contains(t, h.engine.Pending().Message, "3 unanswered")
	require.True(t, h.engine.ConfirmSubmit())

	assert.False(t, h.engine.ConfirmSubmit())
	assert.False(t, h.engine.Submit(ReasonManual))
	assert.Equal(t, TimeoutIgnored, h.engine.OnSectionTimeout())
	assert.Len(t, h.events.ofType(EventSubmitted), 1)
	assert.Equal(t, 1, h.submitter.Count())

	sub := h.engine.Submission()
	assert.Equal(t, ReasonManual, sub.Reason)
	assert.False(t, sub.Payload.AutoSubmission.IsAutoSubmitted)
	assert.False(t, h.engine.SelectOption(2), "controls lock after submit")
}

func TestEngine_PayloadCoversEveryQuestion(t *testing.T) {
	for _, answered := range []int{0, 1, 4, 5} {
		h := startedHarness(mustTest(2, 5, 10))
		for i := 0; i < answered; i++ {
			require.True(t, h.engine.GoToQuestion(i))
			require.True(t, h.engine.SelectOption(i%4))
		}
		require.True(t, h.engine.Submit(ReasonManual))

		var got, sentinels int
		for i, a := range h.engine.Submission().Payload.SelectedAnswers {
			if a.Answered() {
				got++
				assert.Equal(t, i%4+1, a.SelectedOption)
			} else {
				sentinels++
				assert.Equal(t, model.UnansweredOption, a.SelectedOption)
			}
		}
		assert.Equal(t, answered, got)
		assert.Equal(t, 10-answered, sentinels)
	}
}

func TestEngine_RetryAfterFailedDelivery(t *testing.T) {
	h := startedHarness(mustTest(1, 2, 10))
	h.submitter.failN = 1
	h.engine.SelectOption(0)

	require.True(t, h.engine.Submit(ReasonManual))
	status, err := h.engine.Delivery()
	assert.Equal(t, DeliveryFailed, status)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, PhaseSubmitted, h.engine.State().Phase, "local state is kept after a transport failure")
	assert.Len(t, h.events.ofType(EventDeliveryFailed), 1)

	require.NoError(t, h.engine.RetrySubmission())
	status, err = h.engine.Delivery()
	assert.Equal(t, DeliveryDelivered, status)
	assert.NoError(t, err)

	require.Equal(t, 2, h.submitter.Count())
	assert.Same(t, h.submitter.calls[0], h.submitter.calls[1])
	assert.ErrorIs(t, h.engine.RetrySubmission(), ErrNothingToRetry)
}

func TestEngine_ManualSectionAdvance(t *testing.T) {
	h := startedHarness(mustTest(2, 3, 1))
	require.True(t, h.engine.SelectOption(1))

	assert.False(t, h.engine.ConfirmNextSection(), "confirm needs a request")
	require.True(t, h.engine.RequestNextSection())
	assert.Equal(t, InteractionSectionLockConfirm, h.engine.Pending().Kind)
	assert.Contains(t, h.engine.Pending().Message, "Section B")
	assert.Equal(t, 0, h.engine.State().SectionIndex, "a request never moves the cursor")

	require.True(t, h.engine.CancelNextSection())
	require.True(t, h.engine.RequestNextSection())

	h.clock.Advance(20 * time.Second)
	require.True(t, h.engine.ConfirmNextSection())

	st := h.engine.State()
	assert.Equal(t, 1, st.SectionIndex)
	assert.True(t, st.SectionLocked[0])
	assert.Equal(t, 20, st.TotalActiveSeconds)
	assert.True(t, st.Visited[h.engine.Test().Sections[1].Questions[0].ID])
	assert.Equal(t, InteractionNone, h.engine.Pending().Kind)
	assert.Equal(t, 60, h.engine.View().RemainingSeconds)
}

func TestEngine_LastSectionCannotAdvance(t *testing.T) {
	h := startedHarness(mustTest(1, 3, 1))
	before := h.engine.State()

	assert.False(t, h.engine.RequestNextSection())
	assert.False(t, h.engine.ConfirmNextSection())
	assert.False(t, h.engine.nav.ConfirmNextSection())
	assert.Equal(t, before, h.engine.State())
	assert.True(t, h.engine.View().IsLastSection)
}

func TestEngine_TimeoutKeepsStrikeWarning(t *testing.T) {
	h := startedHarness(mustTest(2, 2, 1))
	h.tabSwitch(10 * time.Second)

	h.tickTo(50 * time.Second)

	assert.Equal(t, 1, h.engine.State().SectionIndex)
	assert.Equal(t, InteractionStrikeWarning, h.engine.Pending().Kind)
}

func TestEngine_HandleKey(t *testing.T) {
	h := startedHarness(mustTest(1, 3, 10))
	q0 := h.engine.Test().Sections[0].Questions[0].ID

	require.True(t, h.engine.HandleKey("b"))
	opt, ok := h.engine.store.Answer(q0)
	require.True(t, ok)
	assert.Equal(t, 1, opt)

	require.True(t, h.engine.HandleKey("m"))
	assert.Equal(t, StatusMarkedForReview, DeriveStatus(ptr(h.engine.State()), q0))

	require.True(t, h.engine.HandleKey("Enter"))
	assert.Equal(t, 1, h.engine.State().QuestionIndex)
	require.True(t, h.engine.HandleKey("ArrowLeft"))
	assert.Equal(t, 0, h.engine.State().QuestionIndex)
	assert.False(t, h.engine.HandleKey("ArrowLeft"), "no question before the first")
	assert.False(t, h.engine.HandleKey("9"))
}

func TestEngine_ClearResponse(t *testing.T) {
	h := startedHarness(mustTest(1, 2, 10))

	assert.False(t, h.engine.ClearResponse(), "nothing to clear")
	require.True(t, h.engine.SelectOption(3))
	require.True(t, h.engine.ClearResponse())

	answers := h.events.ofType(EventAnswer)
	require.Len(t, answers, 2)
	assert.Equal(t, 4, answers[0].Option)
	assert.Equal(t, model.UnansweredOption, answers[1].Option)
	assert.Equal(t, StatusVisitedUnanswered, h.engine.View().Grid[0].Status)
}

func ptr[T any](v T) *T { return &v }

func resumedHarness(test *Test, p Progress) *harness {
	h := &harness{
		clock:     newFakeClock(),
		submitter: &recordingSubmitter{},
		events:    &eventLog{},
	}
	h.engine = New(test, Options{
		Submitter: h.submitter,
		Clock:     h.clock,
		Observer:  h.events.observe,
		Resume:    &p,
	})
	return h
}

func TestEngine_ResumeKeepsStrikesAndAnswers(t *testing.T) {
	test := mustTest(2, 2, 1)
	second := test.Sections[1].Questions[0].ID
	h := resumedHarness(test, Progress{
		Answers: map[string]int{test.Sections[0].Questions[1].ID: 1, second: 3},
		Strikes: 2,
	})

	require.True(t, h.engine.Start(nil))
	st := h.engine.State()
	assert.Equal(t, 2, st.Strikes)
	assert.Equal(t, 1, st.SectionIndex, "resumes in the furthest answered section")
	assert.True(t, st.SectionLocked[0])
	assert.Equal(t, 3, st.Answers[second])

	v := h.tabSwitch(time.Minute)
	assert.True(t, v.AutoSubmit, "a resumed attempt keeps counting toward the same limit")
	require.Equal(t, PhaseSubmitted, h.engine.State().Phase)
	sub := h.engine.Submission()
	require.NotNil(t, sub)
	assert.Equal(t, ReasonViolation, sub.Reason)
	assert.Equal(t, 3, sub.Payload.AutoSubmission.TabSwitches)
}

func TestEngine_ResumeAtStrikeLimitSubmitsOnStart(t *testing.T) {
	h := resumedHarness(mustTest(1, 2, 1), Progress{Strikes: 3})

	require.True(t, h.engine.Start(nil))
	assert.Equal(t, PhaseSubmitted, h.engine.State().Phase)
	require.NotNil(t, h.engine.Submission())
	assert.Equal(t, ReasonViolation, h.engine.Submission().Reason)
	assert.Equal(t, 1, h.submitter.Count())
}
