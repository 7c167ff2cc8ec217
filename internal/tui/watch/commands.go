package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/events"
)

// TypeStats aggregates served commands of one request type.
type TypeStats struct {
	Type     string
	Served   int
	Failed   int
	Bytes    int64
	Total    time.Duration
	LastPath string
	LastAt   time.Time
}

func (s *TypeStats) avg() time.Duration {
	if s.Served == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Served)
}

// decodeEntry extracts the audit entry carried by a log.served event.
func decodeEntry(e events.Event) (audit.Entry, bool) {
	if e.Type != events.TypeLogServed {
		return audit.Entry{}, false
	}
	var entry audit.Entry
	if err := json.Unmarshal(e.Data, &entry); err != nil || entry.Type == "" {
		return audit.Entry{}, false
	}
	return entry, true
}

func updateStats(stats map[string]*TypeStats, entry audit.Entry) {
	s, ok := stats[entry.Type]
	if !ok {
		s = &TypeStats{Type: entry.Type}
		stats[entry.Type] = s
	}
	s.Served++
	if !entry.OK {
		s.Failed++
	}
	s.Bytes += int64(entry.Bytes)
	s.Total += entry.Duration
	if len(entry.Paths) > 0 {
		s.LastPath = strings.Join(entry.Paths, ",")
	}
	s.LastAt = entry.At
}

func newCommandTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "TYPE", Width: 24},
			{Title: "SERVED", Width: 8},
			{Title: "FAILED", Width: 8},
			{Title: "BYTES", Width: 10},
			{Title: "AVG", Width: 10},
			{Title: "LAST PATH", Width: 32},
		}),
		table.WithHeight(5),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(theme.Header.GetForeground()).Bold(true)
	styles.Selected = styles.Selected.Foreground(theme.Highlight.GetForeground()).Bold(false)
	t.SetStyles(styles)
	return t
}

// commandRows renders stats sorted by type name so rows keep their place.
func commandRows(stats map[string]*TypeStats) []table.Row {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		s := stats[k]
		rows = append(rows, table.Row{
			strings.TrimSuffix(s.Type, "_REQUEST"),
			fmt.Sprintf("%d", s.Served),
			fmt.Sprintf("%d", s.Failed),
			formatBytes(s.Bytes),
			s.avg().Round(time.Microsecond).String(),
			truncate(s.LastPath, 32),
		})
	}
	return rows
}

func renderCommands(t table.Model, theme Theme, width int) string {
	content := theme.Title.Render("COMMANDS") + "\n" + t.View()
	return theme.Border.Width(width - 4).Render(content)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	// Keep the tail; file names matter more than directories.
	return "..." + s[len(s)-(n-3):]
}
