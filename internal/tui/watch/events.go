package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tasklog/internal/events"
)

const maxStreamLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("LIVE"),
			theme.Dim.Render("  Waiting for log commands..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= maxStreamLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("LIVE"), body)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	entry, ok := decodeEntry(e)
	if !ok {
		raw := truncate(string(e.Data), 60)
		return fmt.Sprintf("%s %s %s", ts, theme.Dim.Render(fmt.Sprintf("%-20s", e.Type)), raw)
	}

	status := theme.StatusOK.Render("ok  ")
	if !entry.OK {
		status = theme.StatusFailed.Render("FAIL")
	}
	name := theme.Highlight.Render(fmt.Sprintf("%-20s", strings.TrimSuffix(entry.Type, "_REQUEST")))

	return fmt.Sprintf("%s %s %s %-8s %s %s",
		ts, status, name,
		formatBytes(int64(entry.Bytes)),
		truncate(strings.Join(entry.Paths, ","), 40),
		theme.Dim.Render(entry.Remote),
	)
}
