// Package watch implements the `tasklog system watch` dashboard: a live view
// of the commands a log server answers, fed by the API event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the dashboard uses.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusFailed lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#5FAFD7")

	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF5F")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
