package engine

// sectionClock is the timer side of a section boundary.
type sectionClock interface {
	// stopSectionTimer renders the running timer inert and returns the
	// seconds spent in the section.
	stopSectionTimer() int
	// startSectionTimer seeds a new timer from the active section.
	startSectionTimer()
}

// Navigator enforces question and section movement rules over a Store.
type Navigator struct {
	test    *Test
	store   *Store
	clock   sectionClock
	pending *Interaction
}

func newNavigator(test *Test, store *Store, clock sectionClock, pending *Interaction) *Navigator {
	return &Navigator{test: test, store: store, clock: clock, pending: pending}
}

func (n *Navigator) movable() bool {
	if n.store.Phase() != PhaseInProgress || n.store.ControlsLocked() {
		return false
	}
	switch n.pending.Kind {
	case InteractionStrikeWarning, InteractionConsentRequired:
		return false
	}
	return true
}

// GoToQuestion moves to question i of the active section, clamped, and
// marks it visited.
func (n *Navigator) GoToQuestion(i int) bool {
	if !n.movable() {
		return false
	}
	n.store.MoveTo(i)
	n.markCurrentVisited()
	return true
}

// Next moves one question forward within the section.
func (n *Navigator) Next() bool {
	before := n.store.QuestionIndex()
	return n.GoToQuestion(before+1) && n.store.QuestionIndex() != before
}

// Previous moves one question back within the section.
func (n *Navigator) Previous() bool {
	before := n.store.QuestionIndex()
	return n.GoToQuestion(before-1) && n.store.QuestionIndex() != before
}

// IsLastSection reports whether the active section is the final one.
func (n *Navigator) IsLastSection() bool {
	return n.store.SectionIndex() >= n.test.LastSection()
}

// RequestNextSection raises the section lock confirmation. It never moves
// the cursor and is refused on the last section.
func (n *Navigator) RequestNextSection() bool {
	if !n.movable() || n.IsLastSection() {
		return false
	}
	if n.pending.Kind == InteractionSectionLockConfirm {
		return true
	}
	if n.pending.Kind != InteractionNone {
		return false
	}
	cur := n.store.SectionIndex()
	*n.pending = sectionLockConfirm(n.test.Sections[cur].Name, n.test.Sections[cur+1].Name)
	return true
}

// CancelNextSection dismisses a pending section lock confirmation.
func (n *Navigator) CancelNextSection() bool {
	if n.pending.Kind != InteractionSectionLockConfirm {
		return false
	}
	*n.pending = noInteraction()
	return true
}

// ConfirmNextSection locks the departing section, advances, resets the
// question cursor, flushes the section's elapsed time and reseeds the
// timer. On the last section nothing changes.
func (n *Navigator) ConfirmNextSection() bool {
	if n.store.Phase() != PhaseInProgress || n.IsLastSection() {
		return false
	}
	elapsed := n.clock.stopSectionTimer()
	n.store.AdvanceSection(elapsed)
	switch n.pending.Kind {
	case InteractionSectionLockConfirm, InteractionSubmitConfirm:
		*n.pending = noInteraction()
	}
	n.clock.startSectionTimer()
	n.markCurrentVisited()
	return true
}

func (n *Navigator) markCurrentVisited() {
	if q, ok := n.store.CurrentQuestion(); ok {
		n.store.MarkVisited(q.ID)
	}
}
