package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// activity lights up on each event and fades out over ten seconds.
type activity struct {
	last time.Time
}

func (a *activity) hit(now time.Time) { a.last = now }

func (a activity) level(now time.Time) int {
	if a.last.IsZero() {
		return 0
	}
	lvl := 5 - int(now.Sub(a.last)/(2*time.Second))
	if lvl < 0 {
		return 0
	}
	return lvl
}

func (a activity) render(theme Theme, now time.Time) string {
	lvl := a.level(now)
	var b strings.Builder
	for i := range 5 {
		if i < lvl {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, served, failed int, act activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	status := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		status = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "" && health.Status != "ok":
		status = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !act.last.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(act.last).Round(time.Second))
	}

	title := " TASKLOG WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  served: %d  failed: %d",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		served, failed,
	)
	activityLine := fmt.Sprintf(" last command: %s %s", lastEvent, act.render(theme, now))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
