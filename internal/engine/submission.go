package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrSubmissionFailed wraps a transport failure of the submit call.
	ErrSubmissionFailed = errors.New("submission delivery failed")
	// ErrNothingToRetry is returned when no failed delivery is pending.
	ErrNothingToRetry = errors.New("no failed submission to retry")
	// ErrInvalidPayload is returned by ValidatePayload.
	ErrInvalidPayload = errors.New("invalid submission payload")
	// ErrAlreadySubmitted is returned for actions on a finalized attempt.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)

// SubmitReason records why an attempt ended.
type SubmitReason string

const (
	ReasonManual    SubmitReason = "manual"
	ReasonTimeout   SubmitReason = "timeout"
	ReasonViolation SubmitReason = "violation"
)

// Auto reports whether the engine ended the attempt on its own.
func (r SubmitReason) Auto() bool {
	return r == ReasonTimeout || r == ReasonViolation
}

// Submission is a finalized, serialized attempt ready for delivery.
type Submission struct {
	TestID      string                   `json:"test_id"`
	Reason      SubmitReason             `json:"reason"`
	Payload     *model.SubmitTestPayload `json:"payload"`
	Body        json.RawMessage          `json:"-"`
	Digest      string                   `json:"digest"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// Submitter delivers a submission. It is the only collaborator whose
// failure crosses the engine boundary as an error.
type Submitter interface {
	Submit(ctx context.Context, sub *Submission) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, sub *Submission) error

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, sub *Submission) error {
	return f(ctx, sub)
}

// DeliveryStatus tracks the network side of a finalized submission.
type DeliveryStatus string

const (
	DeliveryNone      DeliveryStatus = "none"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Assembler finalizes the store once and keeps the serialized result for
// every later delivery attempt.
type Assembler struct {
	test  *Test
	store *Store
	sub   *Submission
}

// NewAssembler creates an assembler for store.
func NewAssembler(test *Test, store *Store) *Assembler {
	return &Assembler{test: test, store: store}
}

// Finalize flushes activeSeconds, serializes the answers and moves the
// store to Submitted. It returns false, and the existing submission, when
// the attempt was already finalized or never started.
func (a *Assembler) Finalize(reason SubmitReason, activeSeconds int, now time.Time) (*Submission, bool) {
	if !a.store.Finalize(activeSeconds) {
		return a.sub, false
	}

	st := a.store.Snapshot()
	payload := BuildPayload(a.test, &st, reason.Auto())
	// Only strings, ints and bools; Marshal cannot fail.
	body, _ := json.Marshal(payload)
	a.sub = &Submission{
		TestID:      a.test.ID,
		Reason:      reason,
		Payload:     payload,
		Body:        body,
		Digest:      Digest(body),
		SubmittedAt: now,
	}
	return a.sub, true
}

// Submission returns the finalized submission, if any.
func (a *Assembler) Submission() *Submission { return a.sub }

// BuildPayload serializes st into the wire payload: one entry per question
// in test order, 1-based options, model.UnansweredOption for the rest.
func BuildPayload(test *Test, st *State, autoSubmitted bool) *model.SubmitTestPayload {
	answers := make([]model.SelectedAnswer, 0, test.QuestionCount())
	for _, sec := range test.Sections {
		for _, q := range sec.Questions {
			selected := model.UnansweredOption
			if opt, ok := st.Answers[q.ID]; ok {
				selected = max(0, opt) + 1
			}
			answers = append(answers, model.SelectedAnswer{
				QuestionID:     q.ID,
				SelectedOption: selected,
				SectionName:    sec.Name,
			})
		}
	}
	return &model.SubmitTestPayload{
		SelectedAnswers: answers,
		TimeTaken:       max(0, st.TotalActiveSeconds),
		AutoSubmission: model.AutoSubmission{
			IsAutoSubmitted: autoSubmitted,
			TabSwitches:     st.Strikes,
		},
	}
}

// Digest returns the hex BLAKE2b-256 of a serialized payload. Deliveries
// use it as an idempotency key.
func Digest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ParseSubmitReason parses a reason name.
func ParseSubmitReason(s string) (SubmitReason, bool) {
	switch r := SubmitReason(s); r {
	case ReasonManual, ReasonTimeout, ReasonViolation:
		return r, true
	}
	return "", false
}

// ValidatePayload checks a payload produced elsewhere against test: every
// question exactly once under its own section, options in range or the
// unanswered sentinel.
func ValidatePayload(test *Test, p *model.SubmitTestPayload) error {
	if p == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if p.TimeTaken < 0 {
		return fmt.Errorf("%w: negative timeTaken", ErrInvalidPayload)
	}
	if p.AutoSubmission.TabSwitches < 0 {
		return fmt.Errorf("%w: negative tabSwitches", ErrInvalidPayload)
	}

	type slot struct {
		section string
		options int
	}
	want := make(map[string]slot, test.QuestionCount())
	for _, sec := range test.Sections {
		for _, q := range sec.Questions {
			want[q.ID] = slot{section: sec.Name, options: len(q.Options)}
		}
	}
	if len(p.SelectedAnswers) != len(want) {
		return fmt.Errorf("%w: %d answers for %d questions", ErrInvalidPayload, len(p.SelectedAnswers), len(want))
	}

	seen := make(map[string]struct{}, len(want))
	for _, a := range p.SelectedAnswers {
		s, ok := want[a.QuestionID]
		if !ok {
			return fmt.Errorf("%w: unknown question %q", ErrInvalidPayload, a.QuestionID)
		}
		if _, dup := seen[a.QuestionID]; dup {
			return fmt.Errorf("%w: duplicate question %q", ErrInvalidPayload, a.QuestionID)
		}
		seen[a.QuestionID] = struct{}{}
		if a.SectionName != s.section {
			return fmt.Errorf("%w: question %q is not in section %q", ErrInvalidPayload, a.QuestionID, a.SectionName)
		}
		if a.SelectedOption != model.UnansweredOption && (a.SelectedOption < 1 || a.SelectedOption > s.options) {
			return fmt.Errorf("%w: option %d out of range for %q", ErrInvalidPayload, a.SelectedOption, a.QuestionID)
		}
	}
	return nil
}
