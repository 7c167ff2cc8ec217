package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed width so served_at sorts and compares as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists entries in the command_log table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts e, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Type == "" {
		return fmt.Errorf("entry type is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	paths := e.Paths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO command_log(id, type, opaque, remote, paths, ok, bytes, duration_ms, served_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Type, int64(e.Opaque), e.Remote, string(pathsJSON), e.OK, e.Bytes,
		e.Duration.Milliseconds(), e.At.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Get loads a single entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, opaque, remote, paths, ok, bytes, duration_ms, served_at
FROM command_log
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, opaque, remote, paths, ok, bytes, duration_ms, served_at
FROM command_log
ORDER BY served_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log: %w", err)
	}
	return out, nil
}

// ForPath returns up to limit entries that touched path, newest first.
func (s *Store) ForPath(ctx context.Context, path string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, opaque, remote, paths, ok, bytes, duration_ms, served_at
FROM command_log
WHERE EXISTS (SELECT 1 FROM json_each(command_log.paths) WHERE json_each.value = ?)
ORDER BY served_at DESC, rowid DESC
LIMIT ?;
`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log by path: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention and returns how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	cutoff := time.Now().Add(-retention).UTC().Format(tsLayout)

	res, err := s.db.ExecContext(ctx, `DELETE FROM command_log WHERE served_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune command_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e          Entry
		opaque     int64
		pathsJSON  string
		durationMS int64
		servedAtS  string
	)
	if err := row.Scan(&e.ID, &e.Type, &opaque, &e.Remote, &pathsJSON, &e.OK, &e.Bytes, &durationMS, &servedAtS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan command_log: %w", err)
	}

	e.Opaque = uint64(opaque)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(pathsJSON), &e.Paths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	if t, err := time.Parse(tsLayout, servedAtS); err == nil {
		e.At = t
	}
	return &e, nil
}
