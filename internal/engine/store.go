package engine

import (
	"time"
)

// Phase is the top-level lifecycle of an attempt.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseSubmitted  Phase = "SUBMITTED"
)

// State is a read-only copy of an attempt's session state.
type State struct {
	SectionIndex       int             `json:"section_index"`
	QuestionIndex      int             `json:"question_index"`
	Answers            map[string]int  `json:"answers"`
	Visited            map[string]bool `json:"visited"`
	MarkedForReview    map[string]bool `json:"marked_for_review"`
	SectionLocked      []bool          `json:"section_locked"`
	Strikes            int             `json:"strikes"`
	LastViolationAt    time.Time       `json:"last_violation_at"`
	TotalActiveSeconds int             `json:"total_active_seconds"`
	Phase              Phase           `json:"phase"`
	ControlsLocked     bool            `json:"controls_locked"`
}

// ViolationResult is the outcome of registering one strike-worthy signal.
type ViolationResult struct {
	Counted    bool
	Strikes    int
	AutoSubmit bool
}

type questionRef struct {
	section int
	options int
}

// Store is the single source of truth for one attempt. Every mutation is
// total: invalid input is clamped or ignored and reported through the
// boolean result, never through a panic or an error.
//
// Store is not safe for concurrent use; an Engine owns it from one loop.
type Store struct {
	test      *Test
	questions map[string]questionRef
	st        State
}

// NewStore creates a fresh NotStarted state for test.
func NewStore(test *Test) *Store {
	refs := make(map[string]questionRef, test.QuestionCount())
	for si, sec := range test.Sections {
		for _, q := range sec.Questions {
			refs[q.ID] = questionRef{section: si, options: len(q.Options)}
		}
	}
	return &Store{
		test:      test,
		questions: refs,
		st: State{
			Answers:         make(map[string]int),
			Visited:         make(map[string]bool),
			MarkedForReview: make(map[string]bool),
			SectionLocked:   make([]bool, len(test.Sections)),
			Phase:           PhaseNotStarted,
		},
	}
}

// Progress is what was persisted about an attempt by an earlier session
// of it. Answers hold 0-based options keyed by question ID.
type Progress struct {
	Answers map[string]int
	Strikes int
}

// Restore seeds a NotStarted store with p. Unknown questions and options out
// of range are dropped. The cursor moves to the furthest section holding an
// answer and every section before it is locked.
func (s *Store) Restore(p Progress) bool {
	if s.st.Phase != PhaseNotStarted {
		return false
	}
	furthest := 0
	for id, opt := range p.Answers {
		ref, ok := s.questions[id]
		if !ok || opt < 0 || opt >= ref.options {
			continue
		}
		s.st.Answers[id] = opt
		s.st.Visited[id] = true
		furthest = max(furthest, ref.section)
	}
	for i := 0; i < furthest; i++ {
		s.st.SectionLocked[i] = true
	}
	s.st.SectionIndex = furthest
	s.st.QuestionIndex = 0
	s.st.Strikes = max(0, p.Strikes)
	return true
}

// Start moves NotStarted to InProgress.
func (s *Store) Start() bool {
	if s.st.Phase != PhaseNotStarted {
		return false
	}
	s.st.Phase = PhaseInProgress
	return true
}

// Phase returns the current lifecycle phase.
func (s *Store) Phase() Phase { return s.st.Phase }

// ControlsLocked reports whether input is no longer accepted.
func (s *Store) ControlsLocked() bool { return s.st.ControlsLocked }

// SectionIndex returns the active section cursor.
func (s *Store) SectionIndex() int { return s.st.SectionIndex }

// QuestionIndex returns the question cursor within the active section.
func (s *Store) QuestionIndex() int { return s.st.QuestionIndex }

// Strikes returns the counted violations so far.
func (s *Store) Strikes() int { return s.st.Strikes }

// TotalActiveSeconds returns the seconds flushed so far.
func (s *Store) TotalActiveSeconds() int { return s.st.TotalActiveSeconds }

// CurrentQuestion returns the question under the cursor.
func (s *Store) CurrentQuestion() (Question, bool) {
	sec := s.test.Sections[s.st.SectionIndex]
	if len(sec.Questions) == 0 {
		return Question{}, false
	}
	return sec.Questions[s.st.QuestionIndex], true
}

// Answer returns the 0-based option recorded for questionID.
func (s *Store) Answer(questionID string) (int, bool) {
	v, ok := s.st.Answers[questionID]
	return v, ok
}

// editable reports whether answer and review state of questionID may change.
func (s *Store) editable(questionID string) (questionRef, bool) {
	if s.st.Phase != PhaseInProgress || s.st.ControlsLocked {
		return questionRef{}, false
	}
	ref, ok := s.questions[questionID]
	if !ok {
		return questionRef{}, false
	}
	if s.st.SectionLocked[ref.section] || ref.section != s.st.SectionIndex {
		return questionRef{}, false
	}
	return ref, true
}

// SetAnswer records option (0-based, clamped) for questionID.
func (s *Store) SetAnswer(questionID string, option int) bool {
	ref, ok := s.editable(questionID)
	if !ok || ref.options == 0 {
		return false
	}
	s.st.Answers[questionID] = clamp(option, 0, ref.options-1)
	return true
}

// ClearAnswer removes the recorded answer for questionID.
func (s *Store) ClearAnswer(questionID string) bool {
	if _, ok := s.editable(questionID); !ok {
		return false
	}
	if _, had := s.st.Answers[questionID]; !had {
		return false
	}
	delete(s.st.Answers, questionID)
	return true
}

// ToggleReview flips the review flag for questionID.
func (s *Store) ToggleReview(questionID string) bool {
	if _, ok := s.editable(questionID); !ok {
		return false
	}
	if s.st.MarkedForReview[questionID] {
		delete(s.st.MarkedForReview, questionID)
	} else {
		s.st.MarkedForReview[questionID] = true
	}
	return true
}

// MarkVisited sets the visited flag. It never clears it.
func (s *Store) MarkVisited(questionID string) bool {
	if s.st.Phase != PhaseInProgress {
		return false
	}
	ref, ok := s.questions[questionID]
	if !ok || s.st.SectionLocked[ref.section] || s.st.Visited[questionID] {
		return false
	}
	s.st.Visited[questionID] = true
	return true
}

// MoveTo clamps n into the active section and moves the question cursor.
// It returns the resulting index.
func (s *Store) MoveTo(n int) int {
	if s.st.Phase != PhaseInProgress {
		return s.st.QuestionIndex
	}
	count := len(s.test.Sections[s.st.SectionIndex].Questions)
	s.st.QuestionIndex = clamp(n, 0, count-1)
	return s.st.QuestionIndex
}

// AdvanceSection locks the active section, moves to the next one and
// flushes elapsedSeconds into the running total. It is a no-op on the last
// section.
func (s *Store) AdvanceSection(elapsedSeconds int) bool {
	if s.st.Phase != PhaseInProgress || s.st.SectionIndex >= s.test.LastSection() {
		return false
	}
	s.st.SectionLocked[s.st.SectionIndex] = true
	s.st.SectionIndex++
	s.st.QuestionIndex = 0
	s.st.TotalActiveSeconds += max(0, elapsedSeconds)
	return true
}

// RegisterViolation counts a strike-worthy signal observed at now unless it
// falls inside cooldown of the previous counted one, the attempt is not in
// progress, or the strike limit has been reached. Reaching maxStrikes locks
// controls in the same step.
func (s *Store) RegisterViolation(now time.Time, cooldown time.Duration, maxStrikes int) ViolationResult {
	res := ViolationResult{Strikes: s.st.Strikes}
	if s.st.Phase != PhaseInProgress || s.st.ControlsLocked {
		return res
	}
	if maxStrikes < 1 {
		maxStrikes = 1
	}
	if s.st.Strikes >= maxStrikes {
		return res
	}
	if !s.st.LastViolationAt.IsZero() && now.Sub(s.st.LastViolationAt) < cooldown {
		return res
	}

	s.st.Strikes++
	s.st.LastViolationAt = now
	res.Counted = true
	res.Strikes = s.st.Strikes
	if s.st.Strikes >= maxStrikes {
		s.st.ControlsLocked = true
		res.AutoSubmit = true
	}
	return res
}

// LockControls stops accepting input without changing the phase.
func (s *Store) LockControls() {
	s.st.ControlsLocked = true
}

// Finalize flushes activeSeconds and moves the attempt to Submitted. Only
// the first call from InProgress has any effect.
func (s *Store) Finalize(activeSeconds int) bool {
	if s.st.Phase != PhaseInProgress {
		return false
	}
	s.st.TotalActiveSeconds += max(0, activeSeconds)
	s.st.Phase = PhaseSubmitted
	s.st.ControlsLocked = true
	return true
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() State {
	c := s.st
	c.Answers = make(map[string]int, len(s.st.Answers))
	for k, v := range s.st.Answers {
		c.Answers[k] = v
	}
	c.Visited = make(map[string]bool, len(s.st.Visited))
	for k, v := range s.st.Visited {
		c.Visited[k] = v
	}
	c.MarkedForReview = make(map[string]bool, len(s.st.MarkedForReview))
	for k, v := range s.st.MarkedForReview {
		c.MarkedForReview[k] = v
	}
	c.SectionLocked = append([]bool(nil), s.st.SectionLocked...)
	return c
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
