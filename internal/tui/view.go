package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/stemsi/exstem-engine/internal/engine"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	modalStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#C89A3A")).
			Padding(1, 2)

	urgencyStyles = map[engine.Urgency]lipgloss.Style{
		engine.UrgencyNormal:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")),
		engine.UrgencyWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14")).Bold(true),
		engine.UrgencyCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")).Bold(true),
	}

	gridStyles = map[engine.QuestionStatus]lipgloss.Style{
		engine.StatusNotVisited:        lipgloss.NewStyle().Foreground(lipgloss.Color("#595959")),
		engine.StatusVisitedUnanswered: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7875")),
		engine.StatusAnswered:          lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")),
		engine.StatusMarkedForReview:   lipgloss.NewStyle().Foreground(lipgloss.Color("#9254DE")),
	}
)

// View implements tea.Model.
func (m *Model) View() string {
	var body string
	switch {
	case m.view.Interaction.Blocking():
		body = renderInteraction(m.view.Interaction)
	case m.view.Phase == engine.PhaseSubmitted:
		body = m.renderSubmitted()
	case m.view.Phase == engine.PhaseInProgress:
		body = renderQuestion(m.view)
	}

	parts := []string{renderHeader(m.view), body}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	if m.view.Phase == engine.PhaseInProgress && !m.view.Interaction.Blocking() {
		parts = append(parts, renderGrid(m.view.Grid), m.help.View(m.keys))
	}
	out := strings.Join(parts, "\n\n")

	if m.width == 0 || m.height == 0 {
		return out
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Top,
		lipgloss.NewStyle().Width(min(m.width, 100)).Render(out))
}

func renderHeader(v engine.View) string {
	section := ""
	if v.SectionIndex < len(v.Sections) {
		section = fmt.Sprintf("Section %d/%d · %s", v.SectionIndex+1, len(v.Sections), v.Sections[v.SectionIndex].Name)
	}
	clock := urgencyStyles[v.Urgency].Render(v.Clock)
	stats := mutedStyle.Render(fmt.Sprintf("Answered %d/%d · Strikes %d/%d",
		v.AnsweredCount, v.QuestionCount, v.Strikes, v.MaxStrikes))
	return titleStyle.Render(v.TestName) + "\n" + section + "  " + clock + "  " + stats
}

func renderContent(c engine.Content) string {
	if c.Kind == engine.ContentImage {
		return "[image] " + c.Value
	}
	return c.Value
}

func renderQuestion(v engine.View) string {
	q := v.Question
	if q == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", titleStyle.Render(fmt.Sprintf("Q%d.", q.Number)), renderContent(q.Content))
	if q.MarkedForReview {
		b.WriteString("  " + gridStyles[engine.StatusMarkedForReview].Render("[review]"))
	}
	if q.Image != nil {
		b.WriteString("\n" + mutedStyle.Render(renderContent(*q.Image)))
	}
	b.WriteString("\n")

	for i, opt := range q.Options {
		line := fmt.Sprintf("  %c) %s", 'A'+rune(i), renderContent(opt))
		// Selected is 1-based
		if q.Selected != nil && *q.Selected == i+1 {
			line = selectedStyle.Render("› " + strings.TrimLeft(line, " "))
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

func renderGrid(cells []engine.GridCell) string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = gridStyles[c.Status].Render(fmt.Sprintf("%2d", c.Number))
	}
	return strings.Join(out, " ")
}

func renderInteraction(in engine.Interaction) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(in.Title))
	if in.Message != "" {
		b.WriteString("\n\n" + in.Message)
	}
	for i, rule := range in.Rules {
		fmt.Fprintf(&b, "\n%d. %s", i+1, rule)
	}

	b.WriteString("\n\n")
	switch in.Kind {
	case engine.InteractionConsentRequired:
		b.WriteString(mutedStyle.Render("enter: I agree, start the test"))
	case engine.InteractionStrikeWarning:
		b.WriteString(mutedStyle.Render("enter: return to the test"))
	default:
		b.WriteString(mutedStyle.Render("enter/y: confirm · esc/n: cancel"))
	}
	return modalStyle.Render(b.String())
}

func (m *Model) renderSubmitted() string {
	lines := []string{titleStyle.Render("Test submitted")}
	if m.reason != "" {
		lines = append(lines, mutedStyle.Render("Reason: "+string(m.reason)))
	}
	switch m.view.Delivery {
	case engine.DeliveryPending:
		lines = append(lines, "Delivering…")
	case engine.DeliveryDelivered:
		lines = append(lines, selectedStyle.Render("Delivered."), mutedStyle.Render("q: quit"))
	case engine.DeliveryFailed:
		lines = append(lines,
			errorStyle.Render("Delivery failed: "+m.view.DeliveryError),
			mutedStyle.Render("Saved to the outbox. r: retry · q: quit"))
	}
	return strings.Join(lines, "\n")
}
