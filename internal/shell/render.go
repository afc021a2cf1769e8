package shell

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	metaStyle     = lipgloss.NewStyle().Faint(true)
	emptyStyle    = lipgloss.NewStyle().Italic(true).Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	bubbleStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	ownBubbleStyle   = bubbleStyle.BorderForeground(lipgloss.Color("12"))
	otherBubbleStyle = bubbleStyle.BorderForeground(lipgloss.Color("8"))
)

// clean makes a message body safe to print: escape sequences are removed
// and tabs expanded, so the text shows exactly as typed.
func clean(body string) string {
	body = ansi.Strip(body)
	return strings.ReplaceAll(body, "\t", "    ")
}

// renderLog draws the message log as bubbles, the viewer's on the right.
func renderLog(log []chatsync.Message, labeler chatsync.Labeler, width int) string {
	if len(log) == 0 {
		return emptyStyle.Render(EmptyLogText)
	}

	// Bubbles take at most three quarters of the line; two cells go to the
	// border and two to padding.
	maxText := width*3/4 - 4
	if maxText < 10 {
		maxText = 10
	}

	blocks := make([]string, 0, len(log))
	for _, m := range log {
		body := clean(m.Body)
		textWidth := 0
		for _, line := range strings.Split(body, "\n") {
			textWidth = max(textWidth, ansi.StringWidth(line))
		}
		textWidth = min(max(textWidth, 1), maxText)

		own := labeler.IsOwn(m.SenderID)
		style, align := otherBubbleStyle, lipgloss.Left
		if own {
			style, align = ownBubbleStyle, lipgloss.Right
		}

		meta := metaStyle.Render(labeler.Label(m.SenderID) + " · " + formatTime(m.CreatedAt))
		bubble := style.Width(textWidth + 2).Render(body)
		block := lipgloss.JoinVertical(align, meta, bubble)
		blocks = append(blocks, lipgloss.PlaceHorizontal(width, align, block))
	}
	return strings.Join(blocks, "\n")
}

func renderComposer(draft string, width int) string {
	line := "> " + clean(draft)
	return lipgloss.NewStyle().MaxWidth(width).Render(line)
}

func renderTitle(title string, width int) string {
	return titleStyle.Render(title) + "\n" + strings.Repeat("─", width)
}

func formatTime(t time.Time) string {
	t = t.Local()
	now := time.Now()
	if y, m, d := t.Date(); y == now.Year() && m == now.Month() && d == now.Day() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

// truncate shortens s to width cells for list previews.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(clean(s)), " ")
	return ansi.Truncate(s, width, "…")
}
