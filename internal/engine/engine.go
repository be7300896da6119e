package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType tags an engine event.
type EventType string

const (
	EventStarted         EventType = "started"
	EventAnswer          EventType = "answer"
	EventViolation       EventType = "violation"
	EventNotice          EventType = "notice"
	EventSectionAdvanced EventType = "section_advanced"
	EventSubmitted       EventType = "submitted"
	EventDelivered       EventType = "delivered"
	EventDeliveryFailed  EventType = "delivery_failed"
)

// Event is emitted to the engine's observer after a state change.
type Event struct {
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Message    string    `json:"message,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	// Option is 1-based; model.UnansweredOption when the answer was cleared.
	Option     int          `json:"option,omitempty"`
	Section    int          `json:"section"`
	Verdict    *Verdict     `json:"verdict,omitempty"`
	Reason     SubmitReason `json:"reason,omitempty"`
	Submission *Submission  `json:"submission,omitempty"`
	Err        string       `json:"error,omitempty"`
}

// TimeoutOutcome is what a section timeout did.
type TimeoutOutcome string

const (
	TimeoutAdvanced  TimeoutOutcome = "advanced"
	TimeoutSubmitted TimeoutOutcome = "submitted"
	TimeoutIgnored   TimeoutOutcome = "ignored"
)

// Scheduler runs blocking work off the engine's loop and hands the result
// back on it.
type Scheduler interface {
	Go(timeout time.Duration, work func(ctx context.Context) error, done func(error))
}

// InlineScheduler runs work synchronously on the caller.
type InlineScheduler struct{}

// Go implements Scheduler.
func (InlineScheduler) Go(timeout time.Duration, work func(ctx context.Context) error, done func(error)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	done(work(ctx))
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	Policy    Policy
	Submitter Submitter
	Scheduler Scheduler
	Clock     Clock
	Observer  func(Event)
	Log       zerolog.Logger
	// Resume seeds the attempt with progress from an earlier session.
	Resume *Progress
}

// Engine runs one attempt. It is not safe for concurrent use: an Actor, or
// a single-threaded caller, owns it.
type Engine struct {
	test    *Test
	policy  Policy
	store   *Store
	nav     *Navigator
	monitor *Monitor
	asm     *Assembler
	timer   *SectionTimer
	pending Interaction

	delivery    DeliveryStatus
	deliveryErr error

	submitter Submitter
	sched     Scheduler
	clock     Clock
	observe   func(Event)
	log       zerolog.Logger
}

// New creates an engine in NotStarted with the consent dialog pending.
func New(test *Test, opts Options) *Engine {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	opts.Policy = opts.Policy.normalized()
	if opts.Submitter == nil {
		opts.Submitter = SubmitterFunc(func(context.Context, *Submission) error { return nil })
	}
	if opts.Scheduler == nil {
		opts.Scheduler = InlineScheduler{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Observer == nil {
		opts.Observer = func(Event) {}
	}

	e := &Engine{
		test:      test,
		policy:    opts.Policy,
		store:     NewStore(test),
		pending:   consentRequired(opts.Policy.MaxStrikes),
		delivery:  DeliveryNone,
		submitter: opts.Submitter,
		sched:     opts.Scheduler,
		clock:     opts.Clock,
		observe:   opts.Observer,
		log:       opts.Log.With().Str("test_id", test.ID).Logger(),
	}
	e.monitor = NewMonitor(e.store, e.policy)
	e.asm = NewAssembler(test, e.store)
	e.nav = newNavigator(test, e.store, e, &e.pending)
	e.timer = NewSectionTimer(nil, nil)
	if opts.Resume != nil {
		e.store.Restore(*opts.Resume)
	}
	return e
}

// Test returns the definition the engine runs.
func (e *Engine) Test() *Test { return e.test }

// Policy returns the effective proctoring policy.
func (e *Engine) Policy() Policy { return e.policy }

// State returns a copy of the session state.
func (e *Engine) State() State { return e.store.Snapshot() }

// Pending returns the modal the engine is waiting on.
func (e *Engine) Pending() Interaction { return e.pending }

// Submission returns the finalized submission, or nil.
func (e *Engine) Submission() *Submission { return e.asm.Submission() }

// Delivery returns the network state of the submission and the last
// transport error.
func (e *Engine) Delivery() (DeliveryStatus, error) { return e.delivery, e.deliveryErr }

// Start acknowledges the rules. fullscreen is the outcome of the client's
// fullscreen request; on failure nothing changes and the consent dialog
// stays open.
func (e *Engine) Start(fullscreen error) bool {
	if e.store.Phase() != PhaseNotStarted {
		return false
	}
	if fullscreen != nil {
		e.log.Info().Err(fullscreen).Msg("Fullscreen denied at start")
		e.notice("Fullscreen permission was denied. Allow fullscreen and press Start again.")
		return false
	}

	e.store.Start()
	e.pending = noInteraction()
	e.startSectionTimer()
	e.nav.markCurrentVisited()

	e.log.Info().Int("strikes", e.store.Strikes()).Msg("Attempt started")
	e.emit(Event{Type: EventStarted})

	if e.store.Strikes() >= e.policy.MaxStrikes {
		e.log.Warn().Int("strikes", e.store.Strikes()).Msg("Resumed at the strike limit, auto-submitting")
		e.Submit(ReasonViolation)
		e.notice("Maximum violations reached. Your test has been submitted.")
	}
	return true
}

// Resume closes a strike warning once fullscreen has been re-entered. On
// failure the warning stays open and the attempt stays paused.
func (e *Engine) Resume(fullscreen error) bool {
	if e.pending.Kind != InteractionStrikeWarning || e.store.Phase() != PhaseInProgress {
		return false
	}
	if fullscreen != nil {
		e.log.Info().Err(fullscreen).Msg("Fullscreen denied on resume")
		e.notice("Fullscreen is required to resume the test. Allow fullscreen and try again.")
		return false
	}
	e.pending = noInteraction()
	return true
}

func (e *Engine) answerable() (Question, bool) {
	if e.pending.Blocking() {
		return Question{}, false
	}
	return e.store.CurrentQuestion()
}

// SelectOption records a 0-based option for the current question.
func (e *Engine) SelectOption(option int) bool {
	q, ok := e.answerable()
	if !ok || !e.store.SetAnswer(q.ID, option) {
		return false
	}
	e.store.MarkVisited(q.ID)
	opt, _ := e.store.Answer(q.ID)
	e.emit(Event{Type: EventAnswer, QuestionID: q.ID, Option: opt + 1})
	return true
}

// ClearResponse removes the current question's answer.
func (e *Engine) ClearResponse() bool {
	q, ok := e.answerable()
	if !ok || !e.store.ClearAnswer(q.ID) {
		return false
	}
	e.emit(Event{Type: EventAnswer, QuestionID: q.ID, Option: -1})
	return true
}

// ToggleReview flips the review flag of the current question.
func (e *Engine) ToggleReview() bool {
	q, ok := e.answerable()
	if !ok {
		return false
	}
	return e.store.ToggleReview(q.ID)
}

// GoToQuestion moves within the active section; n is clamped.
func (e *Engine) GoToQuestion(n int) bool { return e.nav.GoToQuestion(n) }

// NextQuestion moves forward one question.
func (e *Engine) NextQuestion() bool { return e.nav.Next() }

// PreviousQuestion moves back one question.
func (e *Engine) PreviousQuestion() bool { return e.nav.Previous() }

// SaveAndNext moves on; answers are recorded as they are selected.
func (e *Engine) SaveAndNext() bool { return e.nav.Next() }

// RequestNextSection raises the section lock confirmation.
func (e *Engine) RequestNextSection() bool { return e.nav.RequestNextSection() }

// CancelNextSection dismisses the section lock confirmation.
func (e *Engine) CancelNextSection() bool { return e.nav.CancelNextSection() }

// ConfirmNextSection advances after the candidate confirmed the lock.
func (e *Engine) ConfirmNextSection() bool {
	if e.pending.Kind != InteractionSectionLockConfirm || e.store.ControlsLocked() {
		return false
	}
	from := e.store.SectionIndex()
	if !e.nav.ConfirmNextSection() {
		return false
	}
	e.log.Info().Int("from_section", from).Int("to_section", e.store.SectionIndex()).Msg("Section advanced")
	e.emit(Event{Type: EventSectionAdvanced, Reason: ReasonManual})
	return true
}

// RequestSubmit raises the manual submit confirmation.
func (e *Engine) RequestSubmit() bool {
	if e.store.Phase() != PhaseInProgress || e.store.ControlsLocked() {
		return false
	}
	switch e.pending.Kind {
	case InteractionSubmitConfirm:
		return true
	case InteractionNone:
	default:
		return false
	}
	st := e.store.Snapshot()
	e.pending = submitConfirm(e.test.QuestionCount() - len(st.Answers))
	return true
}

// CancelSubmit dismisses the submit confirmation.
func (e *Engine) CancelSubmit() bool {
	if e.pending.Kind != InteractionSubmitConfirm {
		return false
	}
	e.pending = noInteraction()
	return true
}

// ConfirmSubmit submits after the candidate confirmed.
func (e *Engine) ConfirmSubmit() bool {
	if e.pending.Kind != InteractionSubmitConfirm {
		return false
	}
	return e.Submit(ReasonManual)
}

// HandleKey applies a keyboard shortcut to the current question.
func (e *Engine) HandleKey(key string) bool {
	q, ok := e.store.CurrentQuestion()
	if !ok {
		return false
	}
	action := ActionForKey(key, len(q.Options))
	switch action.Kind {
	case KeySelectOption:
		return e.SelectOption(action.Option)
	case KeyNextQuestion:
		return e.NextQuestion()
	case KeyPreviousQuestion:
		return e.PreviousQuestion()
	case KeyToggleReview:
		return e.ToggleReview()
	case KeySaveAndNext:
		return e.SaveAndNext()
	}
	return false
}

// HandleSignal feeds one raw platform event to the integrity monitor and
// applies the verdict: a notice for blocked actions, a warning dialog for
// counted strikes below the limit, an immediate submit at the limit.
func (e *Engine) HandleSignal(sig Signal) Verdict {
	if sig.At.IsZero() {
		sig.At = e.clock.Now()
	}
	v := e.monitor.Observe(sig)

	switch {
	case v.Blocked:
		if v.Kind == ViolationClipboard {
			e.notice("Copy, cut and paste are disabled during the test.")
		} else {
			e.notice("Right click is disabled during the test.")
		}
		e.emit(Event{Type: EventViolation, Verdict: &v})
	case v.AutoSubmit:
		e.log.Warn().Str("kind", string(v.Kind)).Int("strikes", v.Strikes).Msg("Strike limit reached, auto-submitting")
		e.emit(Event{Type: EventViolation, Verdict: &v})
		e.Submit(ReasonViolation)
		e.notice("Maximum violations reached. Your test has been submitted.")
	case v.Warn:
		e.log.Info().Str("kind", string(v.Kind)).Int("strikes", v.Strikes).Bool("final", v.Final).Msg("Strike counted")
		e.pending = strikeWarning(v.Strikes, v.Final, v.Kind)
		e.emit(Event{Type: EventViolation, Verdict: &v})
	case v.Bucket == BucketStrike:
		e.log.Debug().Str("kind", string(v.Kind)).Msg("Violation dropped")
	}
	return v
}

// Tick advances the section timer to now. Owners call it at 1 Hz.
func (e *Engine) Tick(now time.Time) {
	e.timer.Tick(now)
}

// OnSectionTimeout advances to the next section or, on the last one,
// submits with reason timeout.
func (e *Engine) OnSectionTimeout() TimeoutOutcome {
	if e.store.Phase() != PhaseInProgress {
		return TimeoutIgnored
	}
	if !e.nav.IsLastSection() {
		from := e.test.Sections[e.store.SectionIndex()].Name
		if !e.nav.ConfirmNextSection() {
			return TimeoutIgnored
		}
		to := e.test.Sections[e.store.SectionIndex()].Name
		e.log.Info().Str("from", from).Str("to", to).Msg("Section time expired, advancing")
		e.emit(Event{Type: EventSectionAdvanced, Reason: ReasonTimeout})
		e.notice(fmt.Sprintf("Time is up for %s. Moving to %s.", from, to))
		return TimeoutAdvanced
	}
	if !e.Submit(ReasonTimeout) {
		return TimeoutIgnored
	}
	e.notice("Time is up. Your test has been submitted.")
	return TimeoutSubmitted
}

// Submit finalizes the attempt and dispatches exactly one delivery. Later
// calls, and calls before Start, do nothing and return false.
func (e *Engine) Submit(reason SubmitReason) bool {
	if e.store.Phase() != PhaseInProgress {
		return false
	}
	now := e.clock.Now()
	active := e.stopSectionTimer()
	sub, ok := e.asm.Finalize(reason, active, now)
	if !ok {
		return false
	}
	e.pending = noInteraction()

	e.log.Info().
		Str("reason", string(reason)).
		Int("time_taken", sub.Payload.TimeTaken).
		Int("tab_switches", sub.Payload.AutoSubmission.TabSwitches).
		Msg("Attempt finalized")
	e.emit(Event{Type: EventSubmitted, Reason: reason, Submission: sub})
	e.deliver(sub)
	return true
}

// RetrySubmission re-sends the already serialized submission after a
// failed delivery. Local state is not touched.
func (e *Engine) RetrySubmission() error {
	sub := e.asm.Submission()
	if sub == nil || e.delivery != DeliveryFailed {
		return ErrNothingToRetry
	}
	e.deliver(sub)
	return nil
}

func (e *Engine) deliver(sub *Submission) {
	e.delivery = DeliveryPending
	e.deliveryErr = nil
	e.sched.Go(e.policy.SubmitTimeout,
		func(ctx context.Context) error { return e.submitter.Submit(ctx, sub) },
		e.onDelivered,
	)
}

func (e *Engine) onDelivered(err error) {
	if err != nil {
		e.delivery = DeliveryFailed
		e.deliveryErr = fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		e.log.Error().Err(err).Msg("Submission delivery failed")
		e.emit(Event{Type: EventDeliveryFailed, Err: e.deliveryErr.Error()})
		e.notice("Submission failed. Your answers are kept; retry to send them.")
		return
	}
	e.delivery = DeliveryDelivered
	e.log.Info().Msg("Submission delivered")
	e.emit(Event{Type: EventDelivered})
}

func (e *Engine) stopSectionTimer() int {
	elapsed := e.timer.Elapsed(e.clock.Now())
	e.timer.Stop()
	return elapsed
}

func (e *Engine) startSectionTimer() {
	sec := e.test.Sections[e.store.SectionIndex()]
	e.timer = NewSectionTimer(nil, func() { e.OnSectionTimeout() })
	e.timer.Start(e.clock.Now(), sec.Duration)
}

func (e *Engine) notice(msg string) {
	e.emit(Event{Type: EventNotice, Message: msg})
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	ev.Section = e.store.SectionIndex()
	e.observe(ev)
}
