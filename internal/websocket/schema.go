package websocket

import (
	"github.com/stemsi/exstem-engine/internal/engine"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart              Action = "start"
	ActionResume             Action = "resume"
	ActionSelect             Action = "select"
	ActionClear              Action = "clear"
	ActionToggleReview       Action = "toggle_review"
	ActionGoTo               Action = "goto"
	ActionNext               Action = "next"
	ActionPrev               Action = "prev"
	ActionRequestNextSection Action = "request_next_section"
	ActionConfirmNextSection Action = "confirm_next_section"
	ActionCancelNextSection  Action = "cancel_next_section"
	ActionRequestSubmit      Action = "request_submit"
	ActionConfirmSubmit      Action = "confirm_submit"
	ActionCancelSubmit       Action = "cancel_submit"
	ActionSignal             Action = "signal"
	ActionKey                Action = "key"
	ActionRetrySubmit        Action = "retry_submit"
	ActionPing               Action = "ping"
)

// Request is any client message. Which fields are read depends on Action.
type Request struct {
	Action Action `json:"action"`

	// Option is 1-based, as displayed. Used by select.
	Option *int `json:"option,omitempty"`
	// Question is the 1-based number within the active section. Used by goto.
	Question *int `json:"question,omitempty"`
	// Key is a keyboard key name. Used by key.
	Key string `json:"key,omitempty"`

	// Fullscreen is the outcome of the client's fullscreen request and
	// FullscreenError its reason on failure. Used by start and resume.
	Fullscreen      bool   `json:"fullscreen,omitempty"`
	FullscreenError string `json:"fullscreen_error,omitempty"`

	// Signal is a raw platform event. Used by signal.
	Signal *engine.Signal `json:"signal,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventView      Event = "view"
	EventNotice    Event = "notice"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// ViewResponse carries the attempt snapshot, after an action when Action
// is set.
type ViewResponse struct {
	Event   Event       `json:"event"`
	Action  Action      `json:"action,omitempty"`
	Applied *bool       `json:"applied,omitempty"`
	View    engine.View `json:"view"`
}

type NoticeResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// SubmittedResponse tells the client the attempt is finalized. Delivery
// changes are reported through later view events.
type SubmittedResponse struct {
	Event     Event               `json:"event"`
	Reason    engine.SubmitReason `json:"reason"`
	TimeTaken int                 `json:"time_taken"`
	Digest    string              `json:"digest"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
