package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type keyMap struct {
	Select      key.Binding
	Next        key.Binding
	Prev        key.Binding
	Review      key.Binding
	SaveNext    key.Binding
	Clear       key.Binding
	NextSection key.Binding
	Submit      key.Binding
	Confirm     key.Binding
	Cancel      key.Binding
	Retry       key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Select:      key.NewBinding(key.WithKeys("1", "2", "3", "4", "a", "b", "c", "d"), key.WithHelp("1-4/a-d", "answer")),
		Next:        key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "next")),
		Prev:        key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "prev")),
		Review:      key.NewBinding(key.WithKeys(" ", "m"), key.WithHelp("space/m", "review")),
		SaveNext:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save & next")),
		Clear:       key.NewBinding(key.WithKeys("backspace", "delete"), key.WithHelp("del", "clear")),
		NextSection: key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "next section")),
		Submit:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "submit")),
		Confirm:     key.NewBinding(key.WithKeys("enter", "y"), key.WithHelp("enter/y", "confirm")),
		Cancel:      key.NewBinding(key.WithKeys("esc", "n"), key.WithHelp("esc/n", "cancel")),
		Retry:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry delivery")),
		Quit:        key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.Prev, k.Next, k.Review, k.SaveNext, k.Clear, k.NextSection, k.Submit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Confirm, k.Cancel, k.Retry, k.Quit}}
}

// engineKey translates a terminal key to the name the engine's hotkeys use.
func engineKey(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyRight:
		return "ArrowRight"
	case tea.KeyLeft:
		return "ArrowLeft"
	case tea.KeyEnter:
		return "Enter"
	case tea.KeySpace:
		return "Space"
	case tea.KeyRunes:
		if len(msg.Runes) == 1 {
			return string(msg.Runes)
		}
	}
	return ""
}
