package model

// UnansweredOption is the selectedOption sentinel for a question the
// candidate never answered. Answered options are 1-based on the wire.
const UnansweredOption = -1

// SubmitTestPayload is the wire payload sent when an attempt is submitted.
type SubmitTestPayload struct {
	SelectedAnswers []SelectedAnswer `json:"selectedAnswers"`
	TimeTaken       int              `json:"timeTaken"`
	AutoSubmission  AutoSubmission   `json:"autoSubmission"`
}

// SelectedAnswer is one entry per question across all sections, in test order.
type SelectedAnswer struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	SectionName    string `json:"sectionName"`
}

// AutoSubmission describes whether the engine ended the attempt on its own.
type AutoSubmission struct {
	IsAutoSubmitted bool `json:"isAutoSubmitted"`
	TabSwitches     int  `json:"tabSwitches"`
}

// Answered reports whether the entry carries a real selection.
func (a SelectedAnswer) Answered() bool {
	return a.SelectedOption > 0
}
