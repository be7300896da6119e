package engine

// View is the read-only snapshot handed to rendering clients. Question
// content is only present while the attempt is in progress.
type View struct {
	TestID           string         `json:"test_id"`
	TestName         string         `json:"test_name"`
	Phase            Phase          `json:"phase"`
	ControlsLocked   bool           `json:"controls_locked"`
	SectionIndex     int            `json:"section_index"`
	IsLastSection    bool           `json:"is_last_section"`
	Sections         []SectionView  `json:"sections"`
	QuestionIndex    int            `json:"question_index"`
	Question         *QuestionView  `json:"question,omitempty"`
	Grid             []GridCell     `json:"grid,omitempty"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Clock            string         `json:"clock"`
	Urgency          Urgency        `json:"urgency"`
	Strikes          int            `json:"strikes"`
	MaxStrikes       int            `json:"max_strikes"`
	AnsweredCount    int            `json:"answered_count"`
	QuestionCount    int            `json:"question_count"`
	Interaction      Interaction    `json:"interaction"`
	Delivery         DeliveryStatus `json:"delivery"`
	DeliveryError    string         `json:"delivery_error,omitempty"`
}

// SectionView describes a section without its questions.
type SectionView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationSeconds int    `json:"duration_seconds"`
	QuestionCount   int    `json:"question_count"`
	Locked          bool   `json:"locked"`
}

// QuestionView is the current question as rendered.
type QuestionView struct {
	ID              string    `json:"id"`
	Number          int       `json:"number"`
	Content         Content   `json:"content"`
	Image           *Content  `json:"image,omitempty"`
	Options         []Content `json:"options"`
	Selected        *int      `json:"selected"`
	MarkedForReview bool      `json:"marked_for_review"`
	IsFirst         bool      `json:"is_first"`
	IsLast          bool      `json:"is_last"`
}

// GridCell is one entry of the navigation grid.
type GridCell struct {
	QuestionID string         `json:"question_id"`
	Number     int            `json:"number"`
	Status     QuestionStatus `json:"status"`
}

// View builds a snapshot at the engine clock's current time.
func (e *Engine) View() View {
	st := e.store.Snapshot()
	v := View{
		TestID:         e.test.ID,
		TestName:       e.test.Name,
		Phase:          st.Phase,
		ControlsLocked: st.ControlsLocked,
		SectionIndex:   st.SectionIndex,
		IsLastSection:  st.SectionIndex >= e.test.LastSection(),
		QuestionIndex:  st.QuestionIndex,
		Strikes:        st.Strikes,
		MaxStrikes:     e.policy.MaxStrikes,
		AnsweredCount:  len(st.Answers),
		QuestionCount:  e.test.QuestionCount(),
		Interaction:    e.pending,
		Delivery:       e.delivery,
	}
	if e.deliveryErr != nil {
		v.DeliveryError = e.deliveryErr.Error()
	}

	v.Sections = make([]SectionView, len(e.test.Sections))
	for i, sec := range e.test.Sections {
		v.Sections[i] = SectionView{
			ID:              sec.ID,
			Name:            sec.Name,
			DurationSeconds: int(sec.Duration.Seconds()),
			QuestionCount:   len(sec.Questions),
			Locked:          st.SectionLocked[i],
		}
	}

	switch st.Phase {
	case PhaseNotStarted:
		v.RemainingSeconds = v.Sections[st.SectionIndex].DurationSeconds
	case PhaseInProgress:
		v.RemainingSeconds = e.timer.Remaining(e.clock.Now())
		v.Question = e.questionView(&st)
		v.Grid = e.grid(&st)
	}
	v.Clock = FormatClock(v.RemainingSeconds)
	v.Urgency = UrgencyFor(v.RemainingSeconds)
	return v
}

func (e *Engine) questionView(st *State) *QuestionView {
	sec := e.test.Sections[st.SectionIndex]
	if len(sec.Questions) == 0 {
		return nil
	}
	q := sec.Questions[st.QuestionIndex]
	qv := &QuestionView{
		ID:              q.ID,
		Number:          st.QuestionIndex + 1,
		Content:         RenderableContent(q.Text),
		Options:         make([]Content, len(q.Options)),
		MarkedForReview: st.MarkedForReview[q.ID],
		IsFirst:         st.QuestionIndex == 0,
		IsLast:          st.QuestionIndex == len(sec.Questions)-1,
	}
	if q.ImageURL != "" {
		qv.Image = &Content{Kind: ContentImage, Value: q.ImageURL}
	}
	for i, o := range q.Options {
		qv.Options[i] = RenderableContent(o)
	}
	if opt, ok := st.Answers[q.ID]; ok {
		qv.Selected = &opt
	}
	return qv
}

func (e *Engine) grid(st *State) []GridCell {
	qs := e.test.Sections[st.SectionIndex].Questions
	statuses := SectionStatuses(e.test, st, st.SectionIndex)
	cells := make([]GridCell, len(qs))
	for i, q := range qs {
		cells[i] = GridCell{QuestionID: q.ID, Number: i + 1, Status: statuses[i]}
	}
	return cells
}
