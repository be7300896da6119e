package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, fullscreen func() error) (*Model, *[]*engine.Submission) {
	t.Helper()
	test, err := engine.Normalize("t1", &model.EngineTest{
		TestName: "Physics",
		Sections: []model.EngineSection{{
			SectionName:     "Mechanics",
			SectionDuration: 30,
			Questions: []model.EngineQuestion{
				{QuestionText: "g on Earth?", Options: []string{"9.8", "1.6", "3.7", "24.8"}},
				{QuestionText: "Unit of force?", Options: []string{"Joule", "Newton"}},
			},
		}},
	})
	require.NoError(t, err)

	var delivered []*engine.Submission
	events := NewEvents()
	actor := engine.NewActor(test, engine.Options{
		Observer: Observer(events),
		Submitter: engine.SubmitterFunc(func(_ context.Context, sub *engine.Submission) error {
			delivered = append(delivered, sub)
			return nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go actor.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-actor.Done()
	})

	m := NewModel(actor, events, fullscreen)
	m.Init()
	return m, &delivered
}

func press(m *Model, msg tea.KeyMsg) {
	m.Update(msg)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_AnswerAndSubmit(t *testing.T) {
	m, delivered := newTestModel(t, func() error { return nil })
	assert.Equal(t, engine.InteractionConsentRequired, m.view.Interaction.Kind)
	assert.Contains(t, m.View(), "start the test")

	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, engine.PhaseInProgress, m.view.Phase)

	press(m, runes("b"))
	require.NotNil(t, m.view.Question.Selected)
	assert.Equal(t, 2, *m.view.Question.Selected)
	assert.Contains(t, m.View(), "› B) 1.6")

	press(m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, 1, m.view.QuestionIndex)
	press(m, tea.KeyMsg{Type: tea.KeySpace})
	assert.True(t, m.view.Question.MarkedForReview)

	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.Equal(t, engine.InteractionSubmitConfirm, m.view.Interaction.Kind)
	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, engine.InteractionNone, m.view.Interaction.Kind)

	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	press(m, runes("y"))
	assert.Equal(t, engine.PhaseSubmitted, m.view.Phase)

	require.Eventually(t, func() bool {
		m.refresh()
		return m.view.Delivery == engine.DeliveryDelivered
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, *delivered, 1)
	answers := (*delivered)[0].Payload.SelectedAnswers
	assert.Equal(t, 2, answers[0].SelectedOption)
	assert.Equal(t, model.UnansweredOption, answers[1].SelectedOption)
}

func TestModel_FullscreenDeniedKeepsConsent(t *testing.T) {
	m, _ := newTestModel(t, func() error { return errors.New("not a terminal") })

	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, engine.PhaseNotStarted, m.view.Phase)
	assert.Equal(t, engine.InteractionConsentRequired, m.view.Interaction.Kind)
}

func TestModel_TabCountsAsStrike(t *testing.T) {
	m, _ := newTestModel(t, func() error { return nil })
	press(m, tea.KeyMsg{Type: tea.KeyEnter})

	press(m, tea.KeyMsg{Type: tea.KeyTab})
	require.Eventually(t, func() bool {
		m.refresh()
		return m.view.Interaction.Kind == engine.InteractionStrikeWarning
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.view.Strikes)

	// answering is paused until the warning is acknowledged
	press(m, runes("a"))
	assert.Nil(t, m.view.Question.Selected)

	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, engine.InteractionNone, m.view.Interaction.Kind)
}

func TestModel_QuitsWhenActorStops(t *testing.T) {
	test, err := engine.Normalize("t2", &model.EngineTest{
		TestName: "Short",
		Sections: []model.EngineSection{{SectionName: "S", SectionDuration: 1,
			Questions: []model.EngineQuestion{{QuestionText: "q", Options: []string{"x"}}}}},
	})
	require.NoError(t, err)
	actor := engine.NewActor(test, engine.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go actor.Run(ctx)
	cancel()
	<-actor.Done()

	m := NewModel(actor, NewEvents(), func() error { return nil })
	_, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestEngineKey(t *testing.T) {
	assert.Equal(t, "ArrowRight", engineKey(tea.KeyMsg{Type: tea.KeyRight}))
	assert.Equal(t, "ArrowLeft", engineKey(tea.KeyMsg{Type: tea.KeyLeft}))
	assert.Equal(t, "Enter", engineKey(tea.KeyMsg{Type: tea.KeyEnter}))
	assert.Equal(t, "Space", engineKey(tea.KeyMsg{Type: tea.KeySpace}))
	assert.Equal(t, "3", engineKey(runes("3")))
	assert.Empty(t, engineKey(runes("ab")))
	assert.Empty(t, engineKey(tea.KeyMsg{Type: tea.KeyUp}))
}

func TestRenderGridAndInteraction(t *testing.T) {
	grid := renderGrid([]engine.GridCell{
		{Number: 1, Status: engine.StatusAnswered},
		{Number: 2, Status: engine.StatusNotVisited},
	})
	assert.Equal(t, " 1  2", stripANSI(grid))

	out := renderInteraction(engine.Interaction{
		Kind:  engine.InteractionSubmitConfirm,
		Title: "Submit test?",
		Rules: []string{"one", "two"},
	})
	assert.Contains(t, out, "Submit test?")
	assert.Contains(t, out, "2. two")
	assert.Contains(t, out, "esc/n: cancel")
}

func stripANSI(s string) string {
	var b strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			skip = true
		case skip && r == 'm':
			skip = false
		case !skip:
			b.WriteRune(r)
		}
	}
	return b.String()
}
