package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates persisted attempt states.
type AttemptStatus string

const (
	AttemptStatusOpen      AttemptStatus = "OPEN"
	AttemptStatusSubmitted AttemptStatus = "SUBMITTED"
)

// Attempt is a student's persisted test attempt.
type Attempt struct {
	ID            uuid.UUID       `json:"id"`
	TestID        uuid.UUID       `json:"test_id"`
	StudentID     int             `json:"student_id"`
	Status        AttemptStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	SubmitReason  *string         `json:"submit_reason,omitempty"`
	TimeTaken     *int            `json:"time_taken,omitempty"`
	AutoSubmitted bool            `json:"auto_submitted"`
	TabSwitches   int             `json:"tab_switches"`
	Digest        *string         `json:"digest,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// AttemptProgress is what the workers have persisted about an open attempt.
// Answers hold 1-based selected options keyed by question ID.
type AttemptProgress struct {
	Answers map[string]int
	Strikes int
}

// AttemptResult is a row of the admin results listing.
type AttemptResult struct {
	AttemptID     uuid.UUID     `json:"attempt_id"`
	StudentID     int           `json:"student_id"`
	Status        AttemptStatus `json:"status"`
	SubmitReason  *string       `json:"submit_reason"`
	TimeTaken     *int          `json:"time_taken"`
	AutoSubmitted bool          `json:"auto_submitted"`
	TabSwitches   int           `json:"tab_switches"`
	Violations    int64         `json:"violations"`
	CreatedAt     time.Time     `json:"created_at"`
	SubmittedAt   *time.Time    `json:"submitted_at"`
}

// RetrySubmissionResponse reports the delivery state after a manual retry.
type RetrySubmissionResponse struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Delivery  string    `json:"delivery"`
}
