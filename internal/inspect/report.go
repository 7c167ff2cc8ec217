// Package inspect renders audit reports: one served command and the history
// of every path it touched.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/tasklog/internal/audit"
)

// historyLimit bounds the per-path history in a report.
const historyLimit = 20

// Store is the subset of audit.Store a report reads.
type Store interface {
	Get(ctx context.Context, id string) (*audit.Entry, error)
	ForPath(ctx context.Context, path string, limit int) ([]*audit.Entry, error)
}

// Report is the structured JSON representation of an audit report.
type Report struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Opaque     uint64        `json:"opaque"`
	Remote     string        `json:"remote"`
	OK         bool          `json:"ok"`
	Bytes      int           `json:"bytes"`
	DurationMS int64         `json:"duration_ms"`
	ServedAt   time.Time     `json:"served_at"`
	Paths      []PathHistory `json:"paths"`
}

// PathHistory lists the commands that touched one path, newest first.
type PathHistory struct {
	Path    string      `json:"path"`
	Entries []HistEntry `json:"entries"`
}

// HistEntry is one line of a path history.
type HistEntry struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	OK       bool      `json:"ok"`
	ServedAt time.Time `json:"served_at"`
	Current  bool      `json:"current,omitempty"`
}

// BuildReport renders a terminal-friendly report for the entry with id.
func BuildReport(ctx context.Context, store Store, id string) (string, error) {
	report, err := gatherReport(ctx, store, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Command Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", report.ID)
	fmt.Fprintf(&out, "Type        : %s\n", report.Type)
	fmt.Fprintf(&out, "Opaque      : %d\n", report.Opaque)
	fmt.Fprintf(&out, "Remote      : %s\n", report.Remote)
	fmt.Fprintf(&out, "Status      : %s\n", status(report.OK))
	fmt.Fprintf(&out, "Bytes       : %d\n", report.Bytes)
	fmt.Fprintf(&out, "Duration    : %dms\n", report.DurationMS)
	fmt.Fprintf(&out, "Served at   : %s\n", report.ServedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "\n")

	if len(report.Paths) == 0 {
		fmt.Fprintf(&out, "paths       : <none>\n")
	}
	for _, ph := range report.Paths {
		fmt.Fprintf(&out, "%s\n", ph.Path)
		for _, h := range ph.Entries {
			marker := " "
			if h.Current {
				marker = "*"
			}
			fmt.Fprintf(&out, "  %s %s  %-26s %-6s %s\n",
				marker, h.ServedAt.Format(time.RFC3339), h.Type, status(h.OK), h.ID)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, store Store, id string) (string, error) {
	report, err := gatherReport(ctx, store, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, store Store, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("entry id is required")
	}

	e, err := store.Get(ctx, id)
	if errors.Is(err, audit.ErrNotFound) {
		return nil, fmt.Errorf("entry %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %q: %w", id, err)
	}

	report := &Report{
		ID:         e.ID,
		Type:       e.Type,
		Opaque:     e.Opaque,
		Remote:     e.Remote,
		OK:         e.OK,
		Bytes:      e.Bytes,
		DurationMS: e.Duration.Milliseconds(),
		ServedAt:   e.At,
		Paths:      make([]PathHistory, 0, len(e.Paths)),
	}

	for _, p := range e.Paths {
		hist, err := store.ForPath(ctx, p, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", p, err)
		}
		ph := PathHistory{Path: p, Entries: make([]HistEntry, 0, len(hist))}
		for _, h := range hist {
			ph.Entries = append(ph.Entries, HistEntry{
				ID:       h.ID,
				Type:     h.Type,
				OK:       h.OK,
				ServedAt: h.At,
				Current:  h.ID == e.ID,
			})
		}
		report.Paths = append(report.Paths, ph)
	}
	return report, nil
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
