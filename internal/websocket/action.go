package websocket

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-engine/internal/engine"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingField  = errors.New("missing field")
)

// errFullscreenDenied is reported to the engine when the client could not
// enter fullscreen and gave no reason.
var errFullscreenDenied = errors.New("fullscreen request denied")

// fullscreenErr converts the reported fullscreen outcome to the engine's form.
func (r *Request) fullscreenErr() error {
	if r.Fullscreen {
		return nil
	}
	if r.FullscreenError != "" {
		return errors.New(r.FullscreenError)
	}
	return errFullscreenDenied
}

// EngineAction maps a candidate action to the engine call it performs.
// Signal, retry and ping are not engine actions and return ErrUnknownAction.
func (r *Request) EngineAction() (func(e *engine.Engine) bool, error) {
	switch r.Action {
	case ActionStart:
		err := r.fullscreenErr()
		return func(e *engine.Engine) bool { return e.Start(err) }, nil
	case ActionResume:
		err := r.fullscreenErr()
		return func(e *engine.Engine) bool { return e.Resume(err) }, nil
	case ActionSelect:
		if r.Option == nil {
			return nil, fmt.Errorf("%w: option", ErrMissingField)
		}
		opt := *r.Option - 1
		return func(e *engine.Engine) bool { return e.SelectOption(opt) }, nil
	case ActionGoTo:
		if r.Question == nil {
			return nil, fmt.Errorf("%w: question", ErrMissingField)
		}
		n := *r.Question - 1
		return func(e *engine.Engine) bool { return e.GoToQuestion(n) }, nil
	case ActionKey:
		if r.Key == "" {
			return nil, fmt.Errorf("%w: key", ErrMissingField)
		}
		key := r.Key
		return func(e *engine.Engine) bool { return e.HandleKey(key) }, nil
	case ActionClear:
		return (*engine.Engine).ClearResponse, nil
	case ActionToggleReview:
		return (*engine.Engine).ToggleReview, nil
	case ActionNext:
		return (*engine.Engine).NextQuestion, nil
	case ActionPrev:
		return (*engine.Engine).PreviousQuestion, nil
	case ActionRequestNextSection:
		return (*engine.Engine).RequestNextSection, nil
	case ActionConfirmNextSection:
		return (*engine.Engine).ConfirmNextSection, nil
	case ActionCancelNextSection:
		return (*engine.Engine).CancelNextSection, nil
	case ActionRequestSubmit:
		return (*engine.Engine).RequestSubmit, nil
	case ActionConfirmSubmit:
		return (*engine.Engine).ConfirmSubmit, nil
	case ActionCancelSubmit:
		return (*engine.Engine).CancelSubmit, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
}
