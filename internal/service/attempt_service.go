package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptForbidden = errors.New("attempt belongs to another student")
)

const (
	subscriberBacklog = 32
	sweepInterval     = time.Minute
)

// LiveAttempt is an attempt whose engine is running in this process.
type LiveAttempt struct {
	Meta AttemptMeta

	actor  *engine.Actor
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[chan engine.Event]struct{}
	lastSeen time.Time

	started   atomic.Bool
	submitted atomic.Bool
	delivered atomic.Bool
}

// Do runs fn on the attempt's loop.
func (la *LiveAttempt) Do(ctx context.Context, fn func(e *engine.Engine)) error {
	la.touch()
	return la.actor.Do(ctx, fn)
}

// Apply runs a candidate action on the attempt's loop. Actions on a
// finalized attempt return engine.ErrAlreadySubmitted.
func (la *LiveAttempt) Apply(ctx context.Context, fn func(e *engine.Engine) bool) (bool, error) {
	var (
		applied bool
		closed  bool
	)
	err := la.Do(ctx, func(e *engine.Engine) {
		if e.State().Phase == engine.PhaseSubmitted {
			closed = true
			return
		}
		applied = fn(e)
	})
	if err != nil {
		return false, err
	}
	if closed {
		return false, engine.ErrAlreadySubmitted
	}
	return applied, nil
}

// Signal forwards a platform signal to the integrity monitor.
func (la *LiveAttempt) Signal(ctx context.Context, sig engine.Signal) error {
	la.touch()
	return la.actor.Signal(ctx, sig)
}

// View returns the current snapshot.
func (la *LiveAttempt) View(ctx context.Context) (engine.View, error) {
	return la.actor.View(ctx)
}

// Retry re-sends a failed submission.
func (la *LiveAttempt) Retry(ctx context.Context) (engine.DeliveryStatus, error) {
	var (
		status engine.DeliveryStatus
		rerr   error
	)
	err := la.Do(ctx, func(e *engine.Engine) {
		rerr = e.RetrySubmission()
		status, _ = e.Delivery()
	})
	if err != nil {
		return status, err
	}
	return status, rerr
}

// Subscribe returns a stream of the attempt's events. Slow subscribers
// miss events rather than stall the loop. Call the returned func to stop.
func (la *LiveAttempt) Subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, subscriberBacklog)
	la.mu.Lock()
	la.subs[ch] = struct{}{}
	la.lastSeen = time.Now()
	la.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			la.mu.Lock()
			delete(la.subs, ch)
			la.lastSeen = time.Now()
			la.mu.Unlock()
		})
	}
}

// Done is closed when the attempt's loop has stopped.
func (la *LiveAttempt) Done() <-chan struct{} { return la.actor.Done() }

func (la *LiveAttempt) publish(ev engine.Event) {
	switch ev.Type {
	case engine.EventStarted:
		la.started.Store(true)
	case engine.EventSubmitted:
		la.submitted.Store(true)
	case engine.EventDelivered:
		la.delivered.Store(true)
	}

	la.mu.Lock()
	defer la.mu.Unlock()
	for ch := range la.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (la *LiveAttempt) touch() {
	la.mu.Lock()
	la.lastSeen = time.Now()
	la.mu.Unlock()
}

// evictable reports whether the attempt has no running clock to honour:
// consent was never given, or the attempt is already submitted.
func (la *LiveAttempt) evictable() bool {
	return !la.started.Load() || la.submitted.Load()
}

// idleSince reports whether the attempt has had no subscriber and no
// action since cutoff.
func (la *LiveAttempt) idleSince(cutoff time.Time) bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return len(la.subs) == 0 && la.lastSeen.Before(cutoff)
}

// engineSource loads the runnable definition of a test.
type engineSource interface {
	Engine(ctx context.Context, id uuid.UUID) (*engine.Test, error)
}

// attemptStore is the attempt persistence AttemptService reads and opens.
type attemptStore interface {
	CreateOrGetOpen(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetProgress(ctx context.Context, attemptID uuid.UUID) (*model.AttemptProgress, error)
}

type studentTest struct {
	testID    uuid.UUID
	studentID int
}

// AttemptService owns the running attempts of this process, one engine
// actor per attempt.
type AttemptService struct {
	tests     engineSource
	attempts  attemptStore
	sink      *EventSink
	submitter *QueueSubmitter
	policy    engine.Policy
	idleTTL   time.Duration
	log       zerolog.Logger

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	live   map[uuid.UUID]*LiveAttempt
	byPair map[studentTest]uuid.UUID
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	tests engineSource,
	attempts attemptStore,
	sink *EventSink,
	submitter *QueueSubmitter,
	policy engine.Policy,
	idleTTL time.Duration,
	log zerolog.Logger,
) *AttemptService {
	root, stop := context.WithCancel(context.Background())
	return &AttemptService{
		tests:     tests,
		attempts:  attempts,
		sink:      sink,
		submitter: submitter,
		policy:    policy,
		idleTTL:   idleTTL,
		log:       log.With().Str("component", "attempt_service").Logger(),
		root:      root,
		stop:      stop,
		live:      make(map[uuid.UUID]*LiveAttempt),
		byPair:    make(map[studentTest]uuid.UUID),
	}
}

// Create opens an attempt for the student, or returns the one already
// running. created is false when an existing attempt was returned. An open
// attempt left without a session, after a restart or an eviction, resumes
// with the answers and strikes the workers persisted for it.
func (s *AttemptService) Create(ctx context.Context, testID uuid.UUID, studentID int) (la *LiveAttempt, created bool, err error) {
	pair := studentTest{testID: testID, studentID: studentID}
	if la := s.byStudent(pair); la != nil {
		return la, false, nil
	}

	test, err := s.tests.Engine(ctx, testID)
	if err != nil {
		return nil, false, err
	}

	row, inserted, err := s.attempts.CreateOrGetOpen(ctx, testID, studentID)
	if err != nil {
		return nil, false, fmt.Errorf("create attempt: %w", err)
	}

	var resume *engine.Progress
	if !inserted {
		stored, err := s.attempts.GetProgress(ctx, row.ID)
		if err != nil {
			return nil, false, fmt.Errorf("load attempt progress: %w", err)
		}
		resume = progressFromStore(stored)
		s.log.Warn().
			Str("attempt_id", row.ID.String()).
			Int("student_id", studentID).
			Int("answers", len(resume.Answers)).
			Int("strikes", resume.Strikes).
			Msg("Open attempt has no running session, resuming it")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[pair]; ok {
		return s.live[id], false, nil
	}

	la = s.spawn(AttemptMeta{AttemptID: row.ID, TestID: testID, StudentID: studentID}, test, resume)
	s.live[row.ID] = la
	s.byPair[pair] = row.ID
	return la, true, nil
}

// progressFromStore converts persisted 1-based answers to engine options.
func progressFromStore(p *model.AttemptProgress) *engine.Progress {
	out := &engine.Progress{Answers: make(map[string]int, len(p.Answers)), Strikes: p.Strikes}
	for id, option := range p.Answers {
		out.Answers[id] = option - 1
	}
	return out
}

// spawn starts the attempt's actor. resume may be nil. Caller holds s.mu.
func (s *AttemptService) spawn(meta AttemptMeta, test *engine.Test, resume *engine.Progress) *LiveAttempt {
	ctx, cancel := context.WithCancel(s.root)
	la := &LiveAttempt{
		Meta:     meta,
		cancel:   cancel,
		subs:     make(map[chan engine.Event]struct{}),
		lastSeen: time.Now(),
	}

	log := s.log.With().
		Str("attempt_id", meta.AttemptID.String()).
		Int("student_id", meta.StudentID).
		Logger()

	la.actor = engine.NewActor(test, engine.Options{
		Policy:    s.policy,
		Submitter: s.submitter.ForAttempt(meta),
		Observer: func(ev engine.Event) {
			s.sink.Record(meta, ev)
			la.publish(ev)
		},
		Log:    log,
		Resume: resume,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		la.actor.Run(ctx)
	}()

	log.Info().Str("test_id", meta.TestID.String()).Msg("Attempt session started")
	return la
}

func (s *AttemptService) byStudent(pair studentTest) *LiveAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[pair]; ok {
		return s.live[id]
	}
	return nil
}

// HasLive reports whether this process runs an attempt of studentID on testID.
func (s *AttemptService) HasLive(testID uuid.UUID, studentID int) bool {
	return s.byStudent(studentTest{testID: testID, studentID: studentID}) != nil
}

// Get returns the running attempt, checking that it belongs to studentID.
func (s *AttemptService) Get(attemptID uuid.UUID, studentID int) (*LiveAttempt, error) {
	s.mu.Lock()
	la, ok := s.live[attemptID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if la.Meta.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}
	return la, nil
}

// GetPersisted returns the stored attempt of a student.
func (s *AttemptService) GetPersisted(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, repository.ErrAttemptNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}
	return a, nil
}

// Retry re-sends the failed submission of a running attempt.
func (s *AttemptService) Retry(ctx context.Context, attemptID uuid.UUID, studentID int) (engine.DeliveryStatus, error) {
	la, err := s.Get(attemptID, studentID)
	if err != nil {
		return "", err
	}
	return la.Retry(ctx)
}

// Count returns the number of attempts running in this process.
func (s *AttemptService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// RunSweeper evicts attempts whose loop has stopped, and attempts left
// idle for the TTL that were never started or are already submitted.
// Blocks until ctx is done.
func (s *AttemptService) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				s.log.Info().Int("evicted", n).Int("live", s.Count()).Msg("Swept idle attempts")
			}
		}
	}
}

func (s *AttemptService) sweep(now time.Time) int {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, la := range s.live {
		stopped := false
		select {
		case <-la.Done():
			stopped = true
		default:
		}
		if !stopped && !(la.evictable() && la.idleSince(cutoff)) {
			continue
		}
		if la.submitted.Load() && !la.delivered.Load() {
			s.log.Warn().
				Str("attempt_id", id.String()).
				Int("student_id", la.Meta.StudentID).
				Msg("Evicting idle attempt with undelivered submission")
		}
		la.cancel()
		delete(s.live, id)
		delete(s.byPair, studentTest{testID: la.Meta.TestID, studentID: la.Meta.StudentID})
		evicted++
	}
	return evicted
}

// Shutdown stops every attempt loop and waits for them, or for ctx.
func (s *AttemptService) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("All attempt sessions stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
