package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tasklog/internal/api"
	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/auth"
	"github.com/mattjoyce/tasklog/internal/events"
	"github.com/mattjoyce/tasklog/internal/log"
	"github.com/mattjoyce/tasklog/internal/logclient"
	"github.com/mattjoyce/tasklog/internal/pool"
	"github.com/mattjoyce/tasklog/internal/processor"
	"github.com/mattjoyce/tasklog/internal/storage"
	"github.com/mattjoyce/tasklog/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// worker is one log server node: pool, processor, audit store and the
// command listener, all on loopback.
type worker struct {
	addr  string
	dir   string
	audit *audit.Store
}

func startWorker(t *testing.T, ctx context.Context) *worker {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := audit.NewStore(db)

	wp := pool.New(pool.DefaultSize(), 4*pool.DefaultSize())
	t.Cleanup(wp.Close)
	proc := processor.New(wp, processor.WithRecorder(store))

	// A tiny threshold forces compressed frames on anything non-trivial.
	codec, err := transport.NewCodec(0, 64)
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	srv := transport.NewServer(codec)
	srv.Register(proc, proc.Types()...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	sctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(done)
		_ = srv.Serve(sctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &worker{addr: ln.Addr().String(), dir: dir, audit: store}
}

func (w *worker) writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type gateway struct {
	srv *httptest.Server
	hub *events.Hub
}

func startGateway(t *testing.T) *gateway {
	t.Helper()
	codec, err := transport.NewCodec(0, 0)
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	clients := logclient.NewPool(logclient.TransportDialer(codec))
	t.Cleanup(func() { _ = clients.Close() })

	hub := events.NewHub(16)
	s := api.New(api.Config{
		Listen: "127.0.0.1:0",
		Tokens: []auth.TokenConfig{
			{Token: "ro", Scopes: []string{auth.ScopeLogsRead}},
			{Token: "rw", Scopes: []string{auth.ScopeLogsWrite}},
		},
		Timeout: 10 * time.Second,
	}, clients, nil, hub, log.WithComponent("api"))

	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return &gateway{srv: hs, hub: hub}
}

func (g *gateway) do(t *testing.T, method, target, token string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, g.srv.URL+target, rdr)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func logQuery(endpoint, host, path string, extra ...string) string {
	q := url.Values{"host": {host}, "path": {path}}
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	return endpoint + "?" + q.Encode()
}

func TestGatewayAcrossWorkers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := startWorker(t, ctx)
	b := startWorker(t, ctx)
	gw := startGateway(t)

	var lines strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&lines, "step %03d ok\n", i)
	}
	bigLog := a.writeLog(t, "build.log", lines.String())
	smallLog := b.writeLog(t, "deploy.log", "one\ntwo\nthree\n")

	// Whole view from worker A; compressed on the wire.
	resp := gw.do(t, http.MethodGet, logQuery("/v1/logs/view", a.addr, bigLog), "ro", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view api.LogTextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 500, strings.Count(view.Msg, "\r\n"))
	assert.True(t, strings.HasPrefix(view.Msg, "step 000 ok\r\n"))

	// Rolling window from worker B.
	resp = gw.do(t, http.MethodGet, logQuery("/v1/logs/roll", b.addr, smallLog, "skip", "1", "limit", "1"), "ro", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roll api.LogTextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roll))
	assert.Equal(t, "two\r\n", roll.Msg)

	// Raw bytes keep their original line endings.
	resp = gw.do(t, http.MethodGet, logQuery("/v1/logs/bytes", b.addr, smallLog), "ro", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw bytes.Buffer
	_, err := raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", raw.String())

	// Read-only tokens cannot delete.
	resp = gw.do(t, http.MethodDelete, "/v1/logs", "ro", api.RemoveLogsRequest{Host: b.addr, Paths: []string{smallLog}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = gw.do(t, http.MethodDelete, "/v1/logs", "rw", api.RemoveLogsRequest{Host: b.addr, Paths: []string{smallLog}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rm api.RemoveLogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rm))
	assert.True(t, rm.Status)
	_, err = os.Stat(smallLog)
	assert.True(t, os.IsNotExist(err))

	// A removed log degrades to an empty view rather than an error.
	resp = gw.do(t, http.MethodGet, logQuery("/v1/logs/view", b.addr, smallLog), "ro", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = api.LogTextResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Empty(t, view.Msg)

	// Each worker audits only what it served. Recording happens after the
	// response is written, so poll.
	require.Eventually(t, func() bool {
		got, err := a.audit.Recent(ctx, 10)
		return err == nil && len(got) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := b.audit.ForPath(ctx, smallLog, 10)
		return err == nil && len(got) == 4
	}, 5*time.Second, 20*time.Millisecond)

	hist, err := b.audit.ForPath(ctx, smallLog, 10)
	require.NoError(t, err)
	assert.Equal(t, "VIEW_WHOLE_LOG_REQUEST", hist[0].Type)
	assert.False(t, hist[0].OK)
	assert.Equal(t, "REMOVE_TASK_LOG_REQUEST", hist[1].Type)
	assert.True(t, hist[1].OK)
}

func TestGatewayWorkerDown(t *testing.T) {
	gw := startGateway(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	resp := gw.do(t, http.MethodGet, logQuery("/v1/logs/view", addr, "/x.log"), "ro", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
