package engine

import "github.com/stemsi/exstem-engine/internal/model"

// ReviewStatus classifies a submitted answer against its key.
type ReviewStatus string

const (
	ReviewCorrect   ReviewStatus = "correct"
	ReviewIncorrect ReviewStatus = "incorrect"
	ReviewSkipped   ReviewStatus = "skipped"
)

// ReviewItem is one row of a read-only result review.
type ReviewItem struct {
	QuestionID     string       `json:"question_id"`
	SectionName    string       `json:"section_name"`
	SelectedOption int          `json:"selected_option"`
	CorrectOption  int          `json:"correct_option"`
	Status         ReviewStatus `json:"status"`
}

// ReviewSummary totals a review.
type ReviewSummary struct {
	Correct   int          `json:"correct"`
	Incorrect int          `json:"incorrect"`
	Skipped   int          `json:"skipped"`
	Items     []ReviewItem `json:"items"`
}

// ClassifyAnswer compares a 1-based selection with a 1-based key. The
// unanswered sentinel and a missing entry are both skipped.
func ClassifyAnswer(selected int, present bool, correct int) ReviewStatus {
	if !present || selected == model.UnansweredOption || selected <= 0 {
		return ReviewSkipped
	}
	if selected == correct {
		return ReviewCorrect
	}
	return ReviewIncorrect
}

// Review walks test in order and classifies every question of payload
// against keys (question id to 1-based correct option).
func Review(test *Test, payload *model.SubmitTestPayload, keys map[string]int) ReviewSummary {
	selected := make(map[string]int, len(payload.SelectedAnswers))
	for _, a := range payload.SelectedAnswers {
		selected[a.QuestionID] = a.SelectedOption
	}

	sum := ReviewSummary{Items: make([]ReviewItem, 0, test.QuestionCount())}
	for _, sec := range test.Sections {
		for _, q := range sec.Questions {
			opt, ok := selected[q.ID]
			if !ok {
				opt = model.UnansweredOption
			}
			status := ClassifyAnswer(opt, ok, keys[q.ID])
			switch status {
			case ReviewCorrect:
				sum.Correct++
			case ReviewIncorrect:
				sum.Incorrect++
			default:
				sum.Skipped++
			}
			sum.Items = append(sum.Items, ReviewItem{
				QuestionID:     q.ID,
				SectionName:    sec.Name,
				SelectedOption: opt,
				CorrectOption:  keys[q.ID],
				Status:         status,
			})
		}
	}
	return sum
}
