package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetupWriter(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("debug line")
	if !strings.Contains(buf.String(), `"msg":"debug line"`) {
		t.Errorf("expected debug line in output, got %q", buf.String())
	}

	// Second call is ignored.
	var other bytes.Buffer
	SetupWriter(&other, "ERROR", "text")
	Info("still json")
	if other.Len() != 0 {
		t.Errorf("second SetupWriter should be a no-op, got %q", other.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("transport").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "transport" {
		t.Errorf("Expected component 'transport', got %v", out["component"])
	}
}

func TestWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithCommand(42).Info("command msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["opaque"] != "42" {
		t.Errorf("Expected opaque '42', got %v", out["opaque"])
	}
}

func TestWithConn(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithConn("10.0.0.7:5678").Info("conn msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["remote"] != "10.0.0.7:5678" {
		t.Errorf("Expected remote addr, got %v", out["remote"])
	}
}
