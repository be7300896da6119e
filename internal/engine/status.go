package engine

// QuestionStatus is the navigation grid classification of a question.
type QuestionStatus string

const (
	StatusNotVisited        QuestionStatus = "NOT_VISITED"
	StatusVisitedUnanswered QuestionStatus = "VISITED_UNANSWERED"
	StatusAnswered          QuestionStatus = "ANSWERED"
	StatusMarkedForReview   QuestionStatus = "MARKED_FOR_REVIEW"
)

// DeriveStatus classifies questionID. Review takes priority over an answer,
// an answer over a visit.
func DeriveStatus(st *State, questionID string) QuestionStatus {
	switch {
	case st.MarkedForReview[questionID]:
		return StatusMarkedForReview
	case hasAnswer(st, questionID):
		return StatusAnswered
	case st.Visited[questionID]:
		return StatusVisitedUnanswered
	default:
		return StatusNotVisited
	}
}

// SectionStatuses derives the status of every question in section, in order.
func SectionStatuses(test *Test, st *State, section int) []QuestionStatus {
	if section < 0 || section >= len(test.Sections) {
		return nil
	}
	qs := test.Sections[section].Questions
	out := make([]QuestionStatus, len(qs))
	for i, q := range qs {
		out[i] = DeriveStatus(st, q.ID)
	}
	return out
}

func hasAnswer(st *State, questionID string) bool {
	_, ok := st.Answers[questionID]
	return ok
}
