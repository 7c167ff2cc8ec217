package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/storage"
)

func seededStore(t *testing.T) *audit.Store {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := audit.NewStore(db)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{ID: "view-1", Type: "VIEW_WHOLE_LOG_REQUEST", Remote: "10.0.0.2:5000", Paths: []string{"/logs/a.log"}, OK: true, Bytes: 40, At: base},
		{ID: "roll-1", Type: "ROLL_VIEW_LOG_REQUEST", Remote: "10.0.0.2:5000", Paths: []string{"/logs/b.log"}, OK: true, Bytes: 8, At: base.Add(time.Minute)},
		{ID: "rm-1", Type: "REMOVE_TASK_LOG_REQUEST", Remote: "10.0.0.3:5001", Paths: []string{"/logs/a.log", "/logs/b.log"}, OK: false, Duration: 12 * time.Millisecond, At: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.Record(ctx, e))
	}
	return s
}

func TestBuildReportRendersPathHistory(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	out, err := BuildReport(context.Background(), s, "rm-1")
	require.NoError(t, err)

	for _, want := range []string{
		"Command Report",
		"ID          : rm-1",
		"Type        : REMOVE_TASK_LOG_REQUEST",
		"Status      : failed",
		"Duration    : 12ms",
		"/logs/a.log",
		"/logs/b.log",
		"view-1",
		"roll-1",
	} {
		assert.Contains(t, out, want)
	}

	// The reported entry is marked in each history.
	assert.Equal(t, 2, strings.Count(out, "  * "))
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.False(t, strings.HasSuffix(out, "\n\n"))
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	raw, err := BuildJSONReport(context.Background(), s, "view-1")
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(raw), &report))
	assert.Equal(t, "view-1", report.ID)
	assert.True(t, report.OK)
	require.Len(t, report.Paths, 1)

	hist := report.Paths[0]
	assert.Equal(t, "/logs/a.log", hist.Path)
	require.Len(t, hist.Entries, 2)
	assert.Equal(t, "rm-1", hist.Entries[0].ID)
	assert.False(t, hist.Entries[0].Current)
	assert.True(t, hist.Entries[1].Current)
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	_, err := BuildReport(context.Background(), s, " ")
	assert.ErrorContains(t, err, "entry id is required")

	_, err = BuildJSONReport(context.Background(), s, "missing")
	assert.ErrorContains(t, err, `entry "missing" not found`)
}
