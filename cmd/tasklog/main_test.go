package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/log"
	"github.com/mattjoyce/tasklog/internal/pool"
	"github.com/mattjoyce/tasklog/internal/processor"
	"github.com/mattjoyce/tasklog/internal/storage"
	"github.com/mattjoyce/tasklog/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// capture runs the CLI with stdout and stderr redirected.
func capture(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &out, &errOut
	defer func() { stdout, stderr = oldOut, oldErr }()

	code := runCLI(args)
	return code, out.String(), errOut.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUsageAndUnknown(t *testing.T) {
	code, out, _ := capture(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "tasklog <noun> <action>")

	code, _, errOut := capture(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage:")

	code, _, errOut = capture(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, errOut = capture(t, "system", "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown system action")

	code, out, _ = capture(t, "log", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "get, view, roll, rm")
}

func TestVersionJSON(t *testing.T) {
	code, out, _ := capture(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version, info.Version)

	code, _, _ = capture(t, "version", "extra")
	assert.Equal(t, 1, code)
}

func TestConfigCheckAndGet(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "config.yaml", "server:\n  listen: 127.0.0.1:4321\n")
	bad := writeFile(t, dir, "bad.yaml", "service:\n  log_level: shout\n")

	code, out, _ := capture(t, "config", "check", "--config", good)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Configuration valid.")
	assert.Contains(t, out, "fingerprint: blake3:")

	code, out, _ = capture(t, "config", "check", "--config", bad, "--json")
	assert.Equal(t, 1, code)
	var res configCheckResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "service.log_level")

	code, out, _ = capture(t, "config", "get", "--config", good, "server.listen")
	assert.Equal(t, 0, code)
	assert.Equal(t, "127.0.0.1:4321\n", out)

	code, out, _ = capture(t, "config", "get", "--config", good, "server")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, `"listen": "127.0.0.1:4321"`)

	code, _, errOut := capture(t, "config", "get", "--config", good, "server.nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")
}

func TestLogArgumentErrors(t *testing.T) {
	code, _, errOut := capture(t, "log", "view", "/a")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--host is required")

	code, _, errOut = capture(t, "log", "view", "--host", "127.0.0.1:1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage: tasklog log view")

	code, _, errOut = capture(t, "log", "rm", "--host", "127.0.0.1:1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage: tasklog log rm")

	code, _, errOut = capture(t, "log", "roll", "--host", "127.0.0.1:1", "--skip", "-2", "/a")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "non-negative")
}

// startWorker serves the command protocol on a loopback port.
func startWorker(t *testing.T) string {
	t.Helper()
	wp := pool.New(2, 4)
	t.Cleanup(wp.Close)
	proc := processor.New(wp)

	codec, err := transport.NewCodec(0, 0)
	require.NoError(t, err)
	srv := transport.NewServer(codec)
	srv.Register(proc, proc.Types()...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		codec.Close()
	})
	return ln.Addr().String()
}

func TestLogCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	addr := startWorker(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "task.log", "a\nb\nc\nd\ne\n")

	code, out, errOut := capture(t, "log", "view", "--host", addr, path)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "a\nb\nc\nd\ne\n", out)

	code, out, _ = capture(t, "log", "roll", "--host", addr, "--skip", "2", "--limit", "2", path)
	require.Equal(t, 0, code)
	assert.Equal(t, "c\nd\n", out)

	dest := filepath.Join(dir, "copy.log")
	code, _, _ = capture(t, "log", "get", "--host", addr, "--out", dest, path)
	require.Equal(t, 0, code)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\ne\n", string(got))

	code, out, _ = capture(t, "log", "rm", "--host", addr, path, dest)
	require.Equal(t, 0, code)
	assert.Equal(t, "removed 2 path(s)\n", out)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLogDialFailure(t *testing.T) {
	code, _, errOut := capture(t, "log", "view", "--host", freeAddr(t), "--timeout", "500ms", "/a")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to dial")
}

func TestServeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cmdAddr := freeAddr(t)
	apiAddr := freeAddr(t)

	cfg := config.Defaults()
	cfg.Server.Listen = cmdAddr
	cfg.Audit.Path = filepath.Join(dir, "audit.db")
	cfg.API.Enabled = true
	cfg.API.Listen = apiAddr
	cfg.API.Auth.APIKey = "k"
	cfg.Client.Timeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, log.WithComponent("test")) }()

	logPath := writeFile(t, dir, "job.log", "hello\nworld\n")
	get := func(target string) (*http.Response, error) {
		req, _ := http.NewRequest("GET", "http://"+apiAddr+target, nil)
		req.Header.Set("Authorization", "Bearer k")
		return http.DefaultClient.Do(req)
	}

	// Wait for both listeners.
	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = get(fmt.Sprintf("/v1/logs/view?host=%s&path=%s", cmdAddr, logPath))
		return err == nil && resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `hello\r\nworld\r\n`)

	require.Eventually(t, func() bool {
		resp, err := get("/v1/audit")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(b), "VIEW_WHOLE_LOG_REQUEST")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestWatchRequiresKey(t *testing.T) {
	t.Setenv("TASKLOG_API_KEY", "")
	code, _, errOut := capture(t, "system", "watch")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "API key required")

	code, out, _ := capture(t, "system", "watch", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "--api-url")
}

func TestAuditCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf("audit:\n  path: %s\n", dbPath))

	code, _, errOut := capture(t, "audit", "list", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "audit database")

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	store := audit.NewStore(db)
	require.NoError(t, store.Record(ctx, audit.Entry{ID: "e1", Type: "VIEW_WHOLE_LOG_REQUEST", Paths: []string{"/l/a.log"}, OK: true}))
	require.NoError(t, store.Record(ctx, audit.Entry{ID: "e2", Type: "REMOVE_TASK_LOG_REQUEST", Paths: []string{"/l/b.log"}, OK: false}))
	require.NoError(t, db.Close())

	code, out, _ := capture(t, "audit", "list", "--config", cfgPath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "VIEW_WHOLE_LOG")
	assert.Contains(t, out, "failed")

	code, out, _ = capture(t, "audit", "list", "--config", cfgPath, "--path", "/l/a.log", "--json")
	require.Equal(t, 0, code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)

	code, out, _ = capture(t, "audit", "show", "--config", cfgPath, "e2")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Type        : REMOVE_TASK_LOG_REQUEST")
	assert.Contains(t, out, "/l/b.log")

	code, _, errOut = capture(t, "audit", "show", "--config", cfgPath, "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	disabled := writeFile(t, dir, "off.yaml", "audit:\n  enabled: false\n")
	code, _, errOut = capture(t, "audit", "list", "--config", disabled)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "disabled")
}

func TestConfigDoctor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(
		"service:\n  lock_path: %s\naudit:\n  path: %s\n",
		filepath.Join(dir, "t.lock"), filepath.Join(dir, "audit.db")))

	code, out, _ := capture(t, "config", "doctor", "--config", cfgPath)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Configuration healthy.\n", out)

	bad := writeFile(t, dir, "bad.yaml", `
api:
  enabled: true
  auth:
    tokens:
      - token: t
        scopes: [jobs:ro]
`)
	code, out, _ = capture(t, "config", "doctor", "--config", bad, "--json")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"token_scopes"`)
}
