package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
)

const sinkBacklog = 1024

// AttemptMeta identifies the attempt an engine event belongs to.
type AttemptMeta struct {
	AttemptID uuid.UUID
	TestID    uuid.UUID
	StudentID int
}

type attemptEvent struct {
	meta AttemptMeta
	ev   engine.Event
}

// EventSink moves engine events off the attempt loops into the Redis
// persistence queues and the monitor channel.
type EventSink struct {
	rdb    *redis.Client
	events chan attemptEvent
	log    zerolog.Logger
}

// NewEventSink creates a new EventSink. Call Run in a goroutine.
func NewEventSink(rdb *redis.Client, log zerolog.Logger) *EventSink {
	return &EventSink{
		rdb:    rdb,
		events: make(chan attemptEvent, sinkBacklog),
		log:    log.With().Str("component", "event_sink").Logger(),
	}
}

// Record enqueues ev without blocking the caller. Events are dropped, and
// logged, when the backlog is full.
func (s *EventSink) Record(meta AttemptMeta, ev engine.Event) {
	select {
	case s.events <- attemptEvent{meta: meta, ev: ev}:
	default:
		s.log.Warn().
			Str("attempt_id", meta.AttemptID.String()).
			Str("type", string(ev.Type)).
			Msg("Event backlog full, dropping event")
	}
}

// Backlog returns the number of events waiting to be written.
func (s *EventSink) Backlog() int { return len(s.events) }

// Run writes events until ctx is cancelled, then flushes what is left.
func (s *EventSink) Run(ctx context.Context) {
	s.log.Info().Msg("Event sink started")
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ae := <-s.events:
			s.write(ctx, ae)
		}
	}
}

func (s *EventSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	for {
		select {
		case ae := <-s.events:
			s.write(ctx, ae)
			n++
		default:
			if n > 0 {
				s.log.Info().Int("count", n).Msg("Flushed remaining events")
			}
			return
		}
	}
}

func (s *EventSink) write(ctx context.Context, ae attemptEvent) {
	queue, msg, mon := routeEvent(ae.meta, ae.ev)
	if queue == "" && mon == nil {
		return
	}

	pipe := s.rdb.Pipeline()
	if queue != "" {
		data, _ := json.Marshal(msg)
		pipe.RPush(ctx, queue, data)
	}
	if mon != nil {
		data, _ := json.Marshal(mon)
		pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(ae.meta.TestID.String()), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", ae.meta.AttemptID.String()).
			Str("type", string(ae.ev.Type)).
			Msg("Failed to write event")
	}
}

// routeEvent decides where an engine event goes: a persistence queue with
// its message, a monitor event, both or neither.
func routeEvent(meta AttemptMeta, ev engine.Event) (queue string, msg interface{}, mon *model.MonitorEvent) {
	base := &model.MonitorEvent{
		Type:      string(ev.Type),
		AttemptID: meta.AttemptID.String(),
		StudentID: meta.StudentID,
		Section:   ev.Section,
		At:        ev.At.Unix(),
	}

	switch ev.Type {
	case engine.EventAnswer:
		return config.WorkerKey.PersistAnswersQueue, &model.AnswerMessage{
			AttemptID:      meta.AttemptID.String(),
			QuestionID:     ev.QuestionID,
			SelectedOption: ev.Option,
			UpdatedAt:      ev.At.UnixMilli(),
		}, nil

	case engine.EventViolation:
		if ev.Verdict == nil || ev.Verdict.Kind == engine.ViolationNone {
			return "", nil, nil
		}
		v := ev.Verdict
		msg := &model.ViolationMessage{
			AttemptID:  meta.AttemptID.String(),
			TestID:     meta.TestID.String(),
			StudentID:  meta.StudentID,
			Kind:       string(v.Kind),
			Counted:    v.Counted,
			Strikes:    v.Strikes,
			RecordedAt: ev.At.UnixMilli(),
		}
		if !v.Counted {
			return config.WorkerKey.PersistViolationsQueue, msg, nil
		}
		base.Kind = string(v.Kind)
		base.Strikes = v.Strikes
		return config.WorkerKey.PersistViolationsQueue, msg, base

	case engine.EventSubmitted:
		base.Reason = string(ev.Reason)
		return "", nil, base

	case engine.EventSectionAdvanced:
		base.Reason = string(ev.Reason)
		return "", nil, base

	case engine.EventDeliveryFailed:
		base.Message = ev.Err
		return "", nil, base

	case engine.EventStarted, engine.EventDelivered:
		return "", nil, base
	}
	return "", nil, nil
}
