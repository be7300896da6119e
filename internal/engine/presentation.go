package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Urgency grades how little time is left in a section.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

const (
	warningSeconds  = 600
	criticalSeconds = 300
)

// UrgencyFor grades remaining seconds.
func UrgencyFor(remaining int) Urgency {
	switch {
	case remaining <= criticalSeconds:
		return UrgencyCritical
	case remaining <= warningSeconds:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// FormatClock renders seconds as MM:SS, or HH:MM:SS once an hour or more
// remains.
func FormatClock(seconds int) string {
	seconds = max(0, seconds)
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ContentKind says how a piece of question content should be rendered.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// Content is renderable question or option content.
type Content struct {
	Kind  ContentKind `json:"kind"`
	Value string      `json:"value"`
}

var contentURL = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)

// RenderableContent treats text containing an http(s) URL as an image of
// that URL; anything else stays text.
func RenderableContent(value string) Content {
	raw := contentURL.FindString(strings.TrimSpace(value))
	if raw == "" {
		return Content{Kind: ContentText, Value: value}
	}
	u, err := url.Parse(strings.TrimRight(raw, "),.;!?"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Content{Kind: ContentText, Value: value}
	}
	return Content{Kind: ContentImage, Value: u.String()}
}
