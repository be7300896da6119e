package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sinkMeta = AttemptMeta{
	AttemptID: uuid.MustParse("6f1d2c1e-7a55-4d0e-9a57-0c6c3f3a1b11"),
	TestID:    uuid.MustParse("1b0e4c55-3f7a-4a8e-8d0b-2b8a9f0c7e22"),
	StudentID: 42,
}

var sinkAt = time.Date(2026, 3, 2, 8, 0, 5, 0, time.UTC)

func TestRouteEvent_AnswerGoesToAnswerQueueOnly(t *testing.T) {
	queue, msg, mon := routeEvent(sinkMeta, engine.Event{
		Type: engine.EventAnswer, At: sinkAt, QuestionID: "q-1", Option: 3,
	})
	assert.Equal(t, config.WorkerKey.PersistAnswersQueue, queue)
	assert.Nil(t, mon)
	assert.Equal(t, &model.AnswerMessage{
		AttemptID:      sinkMeta.AttemptID.String(),
		QuestionID:     "q-1",
		SelectedOption: 3,
		UpdatedAt:      sinkAt.UnixMilli(),
	}, msg)
}

func TestRouteEvent_Violations(t *testing.T) {
	counted := engine.Verdict{Kind: engine.ViolationTabSwitch, Counted: true, Strikes: 2, Warn: true}
	queue, msg, mon := routeEvent(sinkMeta, engine.Event{Type: engine.EventViolation, At: sinkAt, Verdict: &counted})
	assert.Equal(t, config.WorkerKey.PersistViolationsQueue, queue)
	require.NotNil(t, mon)
	assert.Equal(t, "tab_switch", mon.Kind)
	assert.Equal(t, 2, mon.Strikes)
	vm := msg.(*model.ViolationMessage)
	assert.True(t, vm.Counted)
	assert.Equal(t, sinkMeta.TestID.String(), vm.TestID)

	blocked := engine.Verdict{Kind: engine.ViolationClipboard, Blocked: true}
	queue, msg, mon = routeEvent(sinkMeta, engine.Event{Type: engine.EventViolation, At: sinkAt, Verdict: &blocked})
	assert.Equal(t, config.WorkerKey.PersistViolationsQueue, queue, "blocked actions are still recorded")
	assert.Nil(t, mon, "only counted strikes reach the monitor")
	assert.False(t, msg.(*model.ViolationMessage).Counted)

	queue, _, mon = routeEvent(sinkMeta, engine.Event{Type: engine.EventViolation, Verdict: &engine.Verdict{}})
	assert.Empty(t, queue)
	assert.Nil(t, mon)
}

func TestRouteEvent_LifecycleGoesToMonitorOnly(t *testing.T) {
	for _, typ := range []engine.EventType{
		engine.EventStarted, engine.EventSectionAdvanced, engine.EventSubmitted,
		engine.EventDelivered, engine.EventDeliveryFailed,
	} {
		queue, msg, mon := routeEvent(sinkMeta, engine.Event{Type: typ, At: sinkAt, Reason: engine.ReasonTimeout})
		assert.Empty(t, queue, typ)
		assert.Nil(t, msg, typ)
		require.NotNil(t, mon, typ)
		assert.Equal(t, string(typ), mon.Type)
		assert.Equal(t, sinkAt.Unix(), mon.At)
	}

	queue, _, mon := routeEvent(sinkMeta, engine.Event{Type: engine.EventNotice, Message: "hi"})
	assert.Empty(t, queue)
	assert.Nil(t, mon)
}

func TestEventSink_RecordNeverBlocks(t *testing.T) {
	sink := NewEventSink(unreachableRedis(t), zerolog.Nop())
	for i := 0; i < sinkBacklog+10; i++ {
		sink.Record(sinkMeta, engine.Event{Type: engine.EventNotice})
	}
	assert.Equal(t, sinkBacklog, sink.Backlog())
}

func TestSubmissionMessageFor(t *testing.T) {
	payload := &model.SubmitTestPayload{
		SelectedAnswers: []model.SelectedAnswer{{QuestionID: "q-1", SelectedOption: -1, SectionName: "A"}},
		TimeTaken:       61,
		AutoSubmission:  model.AutoSubmission{IsAutoSubmitted: true, TabSwitches: 3},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	msg := SubmissionMessageFor(sinkMeta, &engine.Submission{
		Reason:      engine.ReasonViolation,
		Payload:     payload,
		Body:        body,
		Digest:      engine.Digest(body),
		SubmittedAt: sinkAt,
	})
	assert.Equal(t, "violation", msg.Reason)
	assert.Equal(t, 61, msg.TimeTaken)
	assert.True(t, msg.AutoSubmitted)
	assert.Equal(t, 3, msg.TabSwitches)
	assert.JSONEq(t, string(body), string(msg.Payload))
	assert.Equal(t, sinkAt.UnixMilli(), msg.SubmittedAt)
}
