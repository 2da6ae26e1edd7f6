package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorCyan   = lipgloss.Color("#00D7D7")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#D7D75F")
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGray   = lipgloss.Color("#808080")

	slotStyle    = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	errStyle     = lipgloss.NewStyle().Foreground(colorRed)
	metaStyle    = lipgloss.NewStyle().Foreground(colorGray)
	pendingStyle = lipgloss.NewStyle().Foreground(colorYellow)
)

// Renderer formats server responses for the terminal.
type Renderer struct {
	glamour *glamour.TermRenderer
}

// NewRenderer creates a renderer wrapping at the given width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r}
}

// Markdown renders markdown to styled terminal output, falling back to
// the raw text when rendering fails.
func (r *Renderer) Markdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// ChatResult renders the outcome of one session: the reply plus a
// one-line footer with winner and timing.
func (r *Renderer) ChatResult(result *ChatResult) string {
	var sb strings.Builder
	sb.WriteString(r.Markdown(result.Reply))
	sb.WriteString("\n\n")

	footer := fmt.Sprintf("session %s", result.CollaborationSession)
	if result.Winner != "" {
		footer += fmt.Sprintf(" · winner %s", result.Winner)
	}
	if result.Executed != nil && result.Executed.Promoted {
		footer += fmt.Sprintf(" · skill %s promoted", result.Executed.SkillName)
	}
	footer += fmt.Sprintf(" · %s", time.Duration(result.DurationMs)*time.Millisecond)
	sb.WriteString(metaStyle.Render(footer))
	return sb.String()
}

// Event renders one feed record as a single line.
func (r *Renderer) Event(ev Event) string {
	ts := time.Unix(ev.Ts, 0).Format("15:04:05")
	tag := ev.Event
	switch {
	case strings.HasSuffix(tag, ".ok") || tag == "session.done":
		tag = okStyle.Render(tag)
	case strings.HasSuffix(tag, ".error") || tag == "session.failed":
		tag = errStyle.Render(tag)
	case strings.HasSuffix(tag, ".canceled"):
		tag = pendingStyle.Render(tag)
	default:
		tag = metaStyle.Render(tag)
	}

	text := ev.Text
	if len(text) > 100 {
		text = text[:100] + "…"
	}
	text = strings.ReplaceAll(text, "\n", " ")

	return fmt.Sprintf("%s %s %s %s",
		metaStyle.Render(ts),
		slotStyle.Render(fmt.Sprintf("%-12s", ev.Slot)),
		tag,
		text,
	)
}

// Skill renders one skill as a listing line.
func (r *Renderer) Skill(sk Skill) string {
	state := sk.State
	switch state {
	case "active":
		state = okStyle.Render(state)
	case "draft":
		state = pendingStyle.Render(state)
	default:
		state = metaStyle.Render(state)
	}
	return fmt.Sprintf("%s  %s  %s", metaStyle.Render(sk.ID), state, slotStyle.Render(sk.Name))
}

// TestResult renders a sandbox run outcome.
func (r *Renderer) TestResult(result *SkillTestResult) string {
	var sb strings.Builder
	if result.OK {
		sb.WriteString(okStyle.Render("✓ passed"))
	} else if result.Killed {
		sb.WriteString(errStyle.Render("✗ killed (deadline or memory)"))
	} else {
		sb.WriteString(errStyle.Render(fmt.Sprintf("✗ failed (exit %d)", result.ExitCode)))
	}
	sb.WriteString(metaStyle.Render(fmt.Sprintf(" in %dms", result.DurationMs)))
	if result.Stdout != "" {
		sb.WriteString("\n" + result.Stdout)
	}
	if result.Stderr != "" {
		sb.WriteString("\n" + errStyle.Render(result.Stderr))
	}
	return sb.String()
}
