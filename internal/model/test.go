package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the lifecycle of a test definition.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusArchived  TestStatus = "ARCHIVED"
)

// Test is the stored test definition header.
type Test struct {
	ID            uuid.UUID  `json:"id"`
	TestName      string     `json:"test_name"`
	Status        TestStatus `json:"status"`
	SectionCount  int        `json:"section_count"`
	QuestionCount int        `json:"question_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EngineTest is the test definition the engine consumes. It is also the
// payload cached in Redis and the file format read by the exam CLI.
type EngineTest struct {
	ID       string          `json:"id,omitempty"`
	TestName string          `json:"testName" validate:"required"`
	Sections []EngineSection `json:"sections" validate:"required,min=1,dive"`
}

// EngineSection is one timed, forward-only block of questions.
type EngineSection struct {
	ID          string `json:"id,omitempty"`
	SectionName string `json:"sectionName" validate:"required"`
	// SectionDuration is expressed in minutes, at most one day.
	SectionDuration float64          `json:"sectionDuration" validate:"gte=0,lte=1440"`
	Questions       []EngineQuestion `json:"questions" validate:"required,min=1,dive"`
}

// EngineQuestion is a single multiple-choice question without its key.
type EngineQuestion struct {
	ID           string   `json:"id,omitempty"`
	QuestionText string   `json:"questionText"`
	Options      []string `json:"options" validate:"required,min=1"`
	ImageURL     string   `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// QuestionKey pairs a question with its correct option (1-based) for review.
type QuestionKey struct {
	QuestionID    string `json:"question_id"`
	CorrectOption int    `json:"correct_option"`
}

// TestImport is the authoring format: a definition plus the 1-based correct
// option of every question, indexed [section][question].
type TestImport struct {
	EngineTest
	AnswerKey [][]int `json:"answerKey" validate:"required,min=1,dive,required,min=1,dive,min=1"`
	Publish   bool    `json:"publish"`
}

// CreateTestResponse is returned after a test is imported.
type CreateTestResponse struct {
	ID            string     `json:"id"`
	TestName      string     `json:"test_name"`
	Status        TestStatus `json:"status"`
	SectionCount  int        `json:"section_count"`
	QuestionCount int        `json:"question_count"`
}

// MonitorAttempt is one open attempt shown on the live monitor.
type MonitorAttempt struct {
	AttemptID  string `json:"attempt_id"`
	StudentID  int    `json:"student_id"`
	Answered   int64  `json:"answered"`
	Violations int64  `json:"violations"`
	StartedAt  int64  `json:"started_at"`
}
