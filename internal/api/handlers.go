package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/tasklog/internal/logclient"
)

const (
	defaultRollLimit  = 100
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleLogBytes handles GET /v1/logs/bytes?host=&path=.
// The body is the raw file; the ETag is a BLAKE3 digest of it.
func (s *Server) handleLogBytes(w http.ResponseWriter, r *http.Request) {
	host, path, ok := s.hostAndPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	client, ok := s.client(ctx, w, host)
	if !ok {
		return
	}
	data, err := client.GetLogBytes(ctx, path)
	if err != nil {
		s.writeWorkerError(w, host, err)
		return
	}

	sum := blake3.Sum256(data)
	etag := `"blake3:` + hex.EncodeToString(sum[:]) + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleLogView handles GET /v1/logs/view?host=&path=.
func (s *Server) handleLogView(w http.ResponseWriter, r *http.Request) {
	host, path, ok := s.hostAndPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	client, ok := s.client(ctx, w, host)
	if !ok {
		return
	}
	msg, err := client.ViewLog(ctx, path)
	if err != nil {
		s.writeWorkerError(w, host, err)
		return
	}
	respondJSON(w, http.StatusOK, LogTextResponse{Host: host, Path: path, Msg: msg})
}

// handleLogRoll handles GET /v1/logs/roll?host=&path=&skip=&limit=.
func (s *Server) handleLogRoll(w http.ResponseWriter, r *http.Request) {
	q := rollQuery{logQuery: parseLogQuery(r)}
	var err error
	if q.Skip, err = queryInt(r, "skip", 0); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = queryInt(r, "limit", defaultRollLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(q); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	host, path, skip, limit := q.Host, q.Path, q.Skip, q.Limit

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	client, ok := s.client(ctx, w, host)
	if !ok {
		return
	}
	msg, err := client.RollViewLog(ctx, path, skip, limit)
	if err != nil {
		s.writeWorkerError(w, host, err)
		return
	}
	respondJSON(w, http.StatusOK, LogTextResponse{Host: host, Path: path, Msg: msg})
}

// handleLogRemove handles DELETE /v1/logs.
func (s *Server) handleLogRemove(w http.ResponseWriter, r *http.Request) {
	var req RemoveLogsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	client, ok := s.client(ctx, w, req.Host)
	if !ok {
		return
	}
	status, err := client.RemoveTaskLog(ctx, req.Paths)
	if err != nil {
		s.writeWorkerError(w, req.Host, err)
		return
	}
	s.logger.Info("task logs removed", "host", req.Host, "count", len(req.Paths), "status", status)
	respondJSON(w, http.StatusOK, RemoveLogsResponse{Host: req.Host, Status: status})
}

// handleAudit handles GET /v1/audit?limit=.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	var q auditQuery
	var err error
	if q.Limit, err = queryInt(r, "limit", defaultAuditLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(q); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	limit := q.Limit
	if limit == 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	respondJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}

func parseLogQuery(r *http.Request) logQuery {
	return logQuery{
		Host: strings.TrimSpace(r.URL.Query().Get("host")),
		Path: strings.TrimSpace(r.URL.Query().Get("path")),
	}
}

func (s *Server) hostAndPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := parseLogQuery(r)
	if err := validate.Struct(q); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return "", "", false
	}
	return q.Host, q.Path, true
}

func (s *Server) client(ctx context.Context, w http.ResponseWriter, host string) (*logclient.Client, bool) {
	c, err := s.clients.Get(ctx, host)
	if err != nil {
		s.writeWorkerError(w, host, err)
		return nil, false
	}
	return c, true
}

// writeWorkerError maps a failed worker call onto a gateway status.
func (s *Server) writeWorkerError(w http.ResponseWriter, host string, err error) {
	s.logger.Warn("worker call failed", "host", host, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "worker timed out")
		return
	}
	s.writeError(w, http.StatusBadGateway, "worker unavailable: "+err.Error())
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
