// Package doctor checks a loaded tasklog configuration for problems that
// parse cleanly but would bite at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/tasklog/internal/auth"
	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/oscmd"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration against the host it will run on.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	native   oscmd.Native
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, native: oscmd.Current()}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateShell(r)
	d.validateTokenScopes(r)
	d.validateFrameLimits(r)
	d.warnExposedAPI(r)
	d.warnLegacyAuth(r)
	d.warnCORS(r)
	d.warnAudit(r)
	d.warnParentDirs(r)
	d.warnClientTimeout(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateShell checks that REMOVE_TASK_LOG can spawn the native shell.
func (d *Doctor) validateShell(r *Result) {
	shell, _ := d.native.Shell()
	if _, err := d.lookPath(shell); err != nil {
		d.addError(r, "shell", "", fmt.Sprintf("shell %q not found in PATH; log removal will fail", shell))
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			switch scope {
			case auth.ScopeLogsRead, auth.ScopeLogsWrite, auth.ScopeAll:
			default:
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s or %s)", scope, auth.ScopeLogsRead, auth.ScopeLogsWrite, auth.ScopeAll))
			}
		}
	}
}

func (d *Doctor) validateFrameLimits(r *Result) {
	s := d.cfg.Server
	if s.MaxFrameSize > 0 && s.CompressThreshold > s.MaxFrameSize {
		d.addWarning(r, "server", "server.compress_threshold",
			"compress_threshold exceeds max_frame_size; responses will never be compressed")
	}
	if s.MaxFrameSize > 0 && s.MaxFrameSize < 1<<20 {
		d.addWarning(r, "server", "server.max_frame_size",
			fmt.Sprintf("max_frame_size %d is under 1MiB; GET_LOG_BYTES on large logs will fail", s.MaxFrameSize))
	}
}

// warnExposedAPI flags an API reachable beyond loopback with a full-access key.
func (d *Doctor) warnExposedAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		return
	}
	if isLoopback(host) {
		return
	}
	if d.cfg.API.Auth.APIKey != "" {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %s with a full-access api_key", d.cfg.API.Listen))
	}
}

func (d *Doctor) warnLegacyAuth(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "auth", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "auth", "api.auth.api_key",
			"api_key grants full access; use tokens with logs:ro or logs:rw scopes")
	}
}

func (d *Doctor) warnCORS(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	for i, origin := range d.cfg.API.CORSOrigins {
		if origin == "*" {
			d.addWarning(r, "api", fmt.Sprintf("api.cors_origins[%d]", i),
				"wildcard origin lets any site read logs with a leaked token")
		}
	}
}

func (d *Doctor) warnAudit(r *Result) {
	if !d.cfg.Audit.Enabled {
		if d.cfg.API.Enabled {
			d.addWarning(r, "audit", "audit.enabled", "audit disabled; GET /v1/audit will return 404")
		}
		return
	}
	if d.cfg.Audit.Retention == 0 {
		d.addWarning(r, "audit", "audit.retention", "retention is 0; audit entries are never pruned")
	} else if d.cfg.Audit.Retention < time.Hour {
		d.addWarning(r, "audit", "audit.retention",
			fmt.Sprintf("retention %s is shorter than the hourly prune interval", d.cfg.Audit.Retention))
	}
}

// warnParentDirs flags state files whose directory does not exist yet.
// SQLite creates the file but not its parent.
func (d *Doctor) warnParentDirs(r *Result) {
	check := func(field, path string) {
		if path == "" {
			return
		}
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			d.addWarning(r, "paths", field, fmt.Sprintf("directory %s does not exist", dir))
		}
	}
	check("service.lock_path", d.cfg.Service.LockPath)
	if d.cfg.Audit.Enabled {
		check("audit.path", d.cfg.Audit.Path)
	}
}

func (d *Doctor) warnClientTimeout(r *Result) {
	if d.cfg.Client.Timeout > 0 && d.cfg.Client.Timeout < time.Second {
		d.addWarning(r, "client", "client.timeout",
			fmt.Sprintf("timeout %s is very short; REMOVE_TASK_LOG waits for a shell", d.cfg.Client.Timeout))
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration healthy.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration usable (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration has problems (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
