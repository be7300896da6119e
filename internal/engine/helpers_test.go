package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

var testEpoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// recordingSubmitter counts deliveries and fails the first failN of them.
type recordingSubmitter struct {
	mu    sync.Mutex
	calls []*Submission
	failN int
}

func (r *recordingSubmitter) Submit(_ context.Context, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sub)
	if len(r.calls) <= r.failN {
		return fmt.Errorf("dial tcp: connection refused")
	}
	return nil
}

func (r *recordingSubmitter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type eventLog struct {
	events []Event
}

func (l *eventLog) observe(ev Event) { l.events = append(l.events, ev) }

func (l *eventLog) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// definition builds sections*questions single-answer questions with four
// options each and no explicit identifiers.
func definition(sections, questions int, minutes float64) *model.EngineTest {
	def := &model.EngineTest{TestName: "Tryout Sains"}
	for s := 0; s < sections; s++ {
		sec := model.EngineSection{
			SectionName:     fmt.Sprintf("Section %c", 'A'+s),
			SectionDuration: minutes,
		}
		for q := 0; q < questions; q++ {
			sec.Questions = append(sec.Questions, model.EngineQuestion{
				QuestionText: fmt.Sprintf("Question %d.%d", s+1, q+1),
				Options:      []string{"alpha", "beta", "gamma", "delta"},
			})
		}
		def.Sections = append(def.Sections, sec)
	}
	return def
}

func mustTest(sections, questions int, minutes float64) *Test {
	t, err := Normalize("tryout-1", definition(sections, questions, minutes))
	if err != nil {
		panic(err)
	}
	return t
}

type harness struct {
	engine    *Engine
	clock     *fakeClock
	submitter *recordingSubmitter
	events    *eventLog
}

func newHarness(test *Test, policy Policy) *harness {
	h := &harness{
		clock:     newFakeClock(),
		submitter: &recordingSubmitter{},
		events:    &eventLog{},
	}
	h.engine = New(test, Options{
		Policy:    policy,
		Submitter: h.submitter,
		Clock:     h.clock,
		Observer:  h.events.observe,
	})
	return h
}

func startedHarness(test *Test) *harness {
	h := newHarness(test, DefaultPolicy())
	if !h.engine.Start(nil) {
		panic("start refused")
	}
	return h
}

// tickTo advances the clock by d and delivers one tick.
func (h *harness) tickTo(d time.Duration) {
	h.engine.Tick(h.clock.Advance(d))
}

func (h *harness) tabSwitch(after time.Duration) Verdict {
	h.clock.Advance(after)
	return h.engine.HandleSignal(Signal{Event: SignalBlur})
}
