package audit

import (
	"context"
	"errors"
	"time"
)

// Entry records one served log command.
type Entry struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Opaque   uint64        `json:"opaque"`
	Remote   string        `json:"remote"`
	Paths    []string      `json:"paths"`
	OK       bool          `json:"ok"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

// Recorder receives an Entry after each response is written.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

var ErrNotFound = errors.New("audit entry not found")
