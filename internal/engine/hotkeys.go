package engine

import (
	"strings"
)

// KeyActionKind is what a keyboard shortcut asks the engine to do.
type KeyActionKind int

const (
	KeyNone KeyActionKind = iota
	KeySelectOption
	KeyNextQuestion
	KeyPreviousQuestion
	KeyToggleReview
	KeySaveAndNext
)

// KeyAction is a decoded shortcut. Option is 0-based for KeySelectOption.
type KeyAction struct {
	Kind   KeyActionKind
	Option int
}

// ActionForKey decodes a key name: 1-9 or A-Z (bounded by optionCount)
// select an option, ArrowRight/ArrowLeft move, Space or M toggles review,
// Enter saves and moves on. M is never an option letter.
func ActionForKey(key string, optionCount int) KeyAction {
	switch key {
	case "ArrowRight":
		return KeyAction{Kind: KeyNextQuestion}
	case "ArrowLeft":
		return KeyAction{Kind: KeyPreviousQuestion}
	case " ", "Space", "m", "M":
		return KeyAction{Kind: KeyToggleReview}
	case "Enter":
		return KeyAction{Kind: KeySaveAndNext}
	}
	if len(key) != 1 {
		return KeyAction{}
	}

	c := key[0]
	if c >= '1' && c <= '9' {
		if idx := int(c - '1'); idx < optionCount {
			return KeyAction{Kind: KeySelectOption, Option: idx}
		}
		return KeyAction{}
	}

	upper := strings.ToUpper(key)[0]
	if upper >= 'A' && upper <= 'Z' {
		if idx := int(upper - 'A'); idx < optionCount {
			return KeyAction{Kind: KeySelectOption, Option: idx}
		}
	}
	return KeyAction{}
}
