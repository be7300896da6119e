// Package tui provides the Bubble Tea interface of the exam CLI.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stemsi/exstem-engine/internal/engine"
)

const (
	refreshInterval = time.Second
	eventBacklog    = 64
	actionTimeout   = 2 * time.Second
)

type tickMsg time.Time

type eventMsg engine.Event

// Model drives one attempt actor from the terminal. A successful terminal
// probe stands in for fullscreen; terminal focus loss is reported as blur.
type Model struct {
	actor      *engine.Actor
	events     chan engine.Event
	fullscreen func() error

	view    engine.View
	notice  string
	reason  engine.SubmitReason
	stopped bool

	keys   keyMap
	help   help.Model
	width  int
	height int
}

// NewModel creates the UI. Pass Observer() as the actor's observer.
// fullscreen is probed on start and on every resume.
func NewModel(actor *engine.Actor, events chan engine.Event, fullscreen func() error) *Model {
	return &Model{
		actor:      actor,
		events:     events,
		fullscreen: fullscreen,
		keys:       defaultKeyMap(),
		help:       help.New(),
	}
}

// NewEvents returns the channel the model reads engine events from.
func NewEvents() chan engine.Event {
	return make(chan engine.Event, eventBacklog)
}

// Observer forwards engine events to events without blocking the actor.
func Observer(events chan<- engine.Event) func(engine.Event) {
	return func(ev engine.Event) {
		select {
		case events <- ev:
		default:
		}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	m.refresh()
	return tea.Batch(tick(), waitForEvent(m.events))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(events <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tickMsg:
		m.refresh()
		return m, m.quitIfStopped(tick())
	case eventMsg:
		m.applyEvent(engine.Event(msg))
		return m, waitForEvent(m.events)
	case tea.BlurMsg:
		m.signal(engine.Signal{Event: engine.SignalBlur})
		return m, nil
	case tea.FocusMsg:
		m.signal(engine.Signal{Event: engine.SignalFocus})
		return m, nil
	case tea.KeyMsg:
		return m, m.quitIfStopped(m.handleKey(msg))
	}
	return m, nil
}

func (m *Model) quitIfStopped(next tea.Cmd) tea.Cmd {
	if m.stopped {
		return tea.Quit
	}
	return next
}

func (m *Model) applyEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventNotice:
		m.notice = ev.Message
	case engine.EventSubmitted:
		m.reason = ev.Reason
	case engine.EventDeliveryFailed:
		m.notice = "Submission could not be delivered. Press r to retry."
	case engine.EventDelivered:
		m.notice = "Submission delivered."
	}
	m.refresh()
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.Quit) {
		return tea.Quit
	}
	if msg.Paste {
		m.signal(engine.Signal{Event: engine.SignalPaste})
		return nil
	}

	switch m.view.Interaction.Kind {
	case engine.InteractionConsentRequired:
		if key.Matches(msg, m.keys.Confirm) {
			probe := m.fullscreen()
			m.do(func(e *engine.Engine) { e.Start(probe) })
		}
		return nil
	case engine.InteractionStrikeWarning:
		if key.Matches(msg, m.keys.Confirm) {
			probe := m.fullscreen()
			m.do(func(e *engine.Engine) { e.Resume(probe) })
		}
		return nil
	case engine.InteractionSectionLockConfirm:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.do(func(e *engine.Engine) { e.ConfirmNextSection() })
		case key.Matches(msg, m.keys.Cancel):
			m.do(func(e *engine.Engine) { e.CancelNextSection() })
		}
		return nil
	case engine.InteractionSubmitConfirm:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.do(func(e *engine.Engine) { e.ConfirmSubmit() })
		case key.Matches(msg, m.keys.Cancel):
			m.do(func(e *engine.Engine) { e.CancelSubmit() })
		}
		return nil
	}

	if m.view.Phase == engine.PhaseSubmitted {
		switch {
		case key.Matches(msg, m.keys.Retry):
			var err error
			m.do(func(e *engine.Engine) { err = e.RetrySubmission() })
			if errors.Is(err, engine.ErrNothingToRetry) {
				m.notice = "Nothing to retry."
			}
		case msg.String() == "q":
			return tea.Quit
		}
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.NextSection):
		m.do(func(e *engine.Engine) { e.RequestNextSection() })
	case key.Matches(msg, m.keys.Submit):
		m.do(func(e *engine.Engine) { e.RequestSubmit() })
	case key.Matches(msg, m.keys.Clear):
		m.do(func(e *engine.Engine) { e.ClearResponse() })
	case msg.Type == tea.KeyTab:
		// a terminal cannot leave the test, so tab stands in for a tab switch
		m.signal(engine.Signal{Event: engine.SignalVisibilityChange, Hidden: true})
		m.signal(engine.Signal{Event: engine.SignalVisibilityChange, Hidden: false})
	default:
		if name := engineKey(msg); name != "" {
			m.do(func(e *engine.Engine) { e.HandleKey(name) })
		}
	}
	return nil
}

// do runs fn on the actor and refreshes the snapshot in the same turn.
func (m *Model) do(fn func(e *engine.Engine)) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var v engine.View
	err := m.actor.Do(ctx, func(e *engine.Engine) {
		fn(e)
		v = e.View()
	})
	m.accept(v, err)
}

func (m *Model) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	v, err := m.actor.View(ctx)
	m.accept(v, err)
}

func (m *Model) accept(v engine.View, err error) {
	if errors.Is(err, engine.ErrActorStopped) {
		m.stopped = true
		return
	}
	if err != nil {
		m.notice = err.Error()
		return
	}
	m.view = v
}

func (m *Model) signal(sig engine.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := m.actor.Signal(ctx, sig); errors.Is(err, engine.ErrActorStopped) {
		m.stopped = true
	}
}
