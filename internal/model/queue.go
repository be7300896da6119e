package model

import "encoding/json"

// ViolationMessage is pushed to persist_violations_queue for every
// integrity signal the monitor classified.
type ViolationMessage struct {
	AttemptID  string `json:"attempt_id"`
	TestID     string `json:"test_id"`
	StudentID  int    `json:"student_id"`
	Kind       string `json:"kind"`
	Counted    bool   `json:"counted"`
	Strikes    int    `json:"strikes"`
	RecordedAt int64  `json:"recorded_at"`
}

// AnswerMessage is pushed to persist_answers_queue when an answer changes.
// SelectedOption is 1-based; UnansweredOption clears the stored row.
type AnswerMessage struct {
	AttemptID      string `json:"attempt_id"`
	QuestionID     string `json:"question_id"`
	SelectedOption int    `json:"selected_option"`
	UpdatedAt      int64  `json:"updated_at"`
}

// SubmissionMessage is pushed to persist_submissions_queue once per
// finalized attempt. Digest identifies the serialized payload.
type SubmissionMessage struct {
	AttemptID     string          `json:"attempt_id"`
	TestID        string          `json:"test_id"`
	StudentID     int             `json:"student_id"`
	Reason        string          `json:"reason"`
	TimeTaken     int             `json:"time_taken"`
	AutoSubmitted bool            `json:"auto_submitted"`
	TabSwitches   int             `json:"tab_switches"`
	Digest        string          `json:"digest"`
	Payload       json.RawMessage `json:"payload"`
	SubmittedAt   int64           `json:"submitted_at"`
}

// MonitorEvent is published on a test's monitor channel.
type MonitorEvent struct {
	Type      string `json:"type"`
	AttemptID string `json:"attempt_id"`
	StudentID int    `json:"student_id"`
	Section   int    `json:"section"`
	Kind      string `json:"kind,omitempty"`
	Strikes   int    `json:"strikes,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	At        int64  `json:"at"`
}
