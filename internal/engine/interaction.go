package engine

import "fmt"

// InteractionKind tags the single modal the engine is waiting on.
type InteractionKind string

const (
	InteractionNone               InteractionKind = "none"
	InteractionConsentRequired    InteractionKind = "consent_required"
	InteractionStrikeWarning      InteractionKind = "strike_warning"
	InteractionSectionLockConfirm InteractionKind = "section_lock_confirm"
	InteractionSubmitConfirm      InteractionKind = "submit_confirm"
)

// Interaction is the pending modal owned by the engine and only rendered by
// clients.
type Interaction struct {
	Kind      InteractionKind `json:"kind"`
	Title     string          `json:"title,omitempty"`
	Message   string          `json:"message,omitempty"`
	Rules     []string        `json:"rules,omitempty"`
	Strikes   int             `json:"strikes,omitempty"`
	IsFinal   bool            `json:"is_final,omitempty"`
	Violation ViolationKind   `json:"violation,omitempty"`
}

// Blocking reports whether the modal pauses answering and navigation.
func (i Interaction) Blocking() bool {
	return i.Kind != InteractionNone
}

func noInteraction() Interaction {
	return Interaction{Kind: InteractionNone}
}

func consentRequired(maxStrikes int) Interaction {
	return Interaction{
		Kind:  InteractionConsentRequired,
		Title: "Important Test Rules",
		Rules: []string{
			"Fullscreen mode is mandatory throughout the test.",
			"Copy, cut, paste, and right click are disabled.",
			fmt.Sprintf("Tab switching is monitored. Violation %d auto-submits.", maxStrikes),
			"Section progression is one-way. You cannot go back.",
			"The test auto-submits when section/final timer reaches zero.",
		},
	}
}

func strikeWarning(strikes int, final bool, kind ViolationKind) Interaction {
	msg := fmt.Sprintf("Violation %d: tab switch or fullscreen exit detected. Please continue only in fullscreen mode.", strikes)
	if final {
		msg = fmt.Sprintf("Violation %d: this is your final warning. One more tab switch or fullscreen exit will auto-submit your test.", strikes)
	}
	return Interaction{
		Kind:      InteractionStrikeWarning,
		Title:     "Integrity Warning",
		Message:   msg,
		Strikes:   strikes,
		IsFinal:   final,
		Violation: kind,
	}
}

func sectionLockConfirm(current, next string) Interaction {
	return Interaction{
		Kind:    InteractionSectionLockConfirm,
		Title:   "Move to next section?",
		Message: fmt.Sprintf("Once you move to %s you cannot return to %s. Your answers in %s will be locked.", next, current, current),
	}
}

func submitConfirm(unanswered int) Interaction {
	msg := "Submit your test now? You cannot change answers afterwards."
	if unanswered > 0 {
		msg = fmt.Sprintf("You have %d unanswered question(s). Submit your test now? You cannot change answers afterwards.", unanswered)
	}
	return Interaction{
		Kind:    InteractionSubmitConfirm,
		Title:   "Submit test?",
		Message: msg,
	}
}
