package doctor

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/oscmd"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Service.LockPath = filepath.Join(dir, "tasklog.lock")
	cfg.Audit.Path = filepath.Join(dir, "audit.db")
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.native = oscmd.Unix{}
	d.lookPath = func(name string) (string, error) { return "/bin/" + name, nil }
	return d
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_Healthy(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "Configuration healthy.\n", FormatHuman(r))
}

func TestValidate_MissingShell(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig(t))
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	r := d.Validate()
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "shell", r.Errors[0].Category)
	assert.Contains(t, r.Errors[0].Message, `"sh"`)
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"logs:ro", "logs:rw"}},
		{Token: "b", Scopes: []string{"*", "jobs:ro"}},
	}

	r := newDoctor(cfg).Validate()
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "api.auth.tokens[1].scopes[1]", r.Errors[0].Field)
}

func TestValidate_ExposedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.Auth.APIKey = "k"

	r := newDoctor(cfg).Validate()
	assert.True(t, r.Valid)
	assert.True(t, hasIssue(r.Warnings, "api.listen"))
	assert.True(t, hasIssue(r.Warnings, "api.auth.api_key"))

	cfg.API.Listen = "localhost:8080"
	r = newDoctor(cfg).Validate()
	assert.False(t, hasIssue(r.Warnings, "api.listen"))
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		edit  func(*config.Config)
		field string
	}{
		{"threshold above frame", func(c *config.Config) { c.Server.CompressThreshold = c.Server.MaxFrameSize + 1 }, "server.compress_threshold"},
		{"tiny frames", func(c *config.Config) { c.Server.MaxFrameSize = 4096 }, "server.max_frame_size"},
		{"no retention", func(c *config.Config) { c.Audit.Retention = 0 }, "audit.retention"},
		{"short retention", func(c *config.Config) { c.Audit.Retention = time.Minute }, "audit.retention"},
		{"missing audit dir", func(c *config.Config) { c.Audit.Path = "/nonexistent-tasklog-dir/audit.db" }, "audit.path"},
		{"missing lock dir", func(c *config.Config) { c.Service.LockPath = "/nonexistent-tasklog-dir/x.lock" }, "service.lock_path"},
		{"short client timeout", func(c *config.Config) { c.Client.Timeout = 100 * time.Millisecond }, "client.timeout"},
		{"wildcard cors", func(c *config.Config) {
			c.API.Enabled = true
			c.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"logs:ro"}}}
			c.API.CORSOrigins = []string{"https://dash.example", "*"}
		}, "api.cors_origins[1]"},
		{"audit off with api", func(c *config.Config) {
			c.Audit.Enabled = false
			c.API.Enabled = true
			c.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"logs:ro"}}}
		}, "audit.enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.edit(cfg)
			r := newDoctor(cfg).Validate()
			assert.True(t, r.Valid, "errors: %v", r.Errors)
			assert.True(t, hasIssue(r.Warnings, tt.field), "warnings: %v", r.Warnings)
		})
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "shell", Message: "no shell"}},
		Warnings: []Issue{{Category: "audit", Field: "audit.retention", Message: "never pruned"}},
	}

	human := FormatHuman(r)
	assert.True(t, strings.HasPrefix(human, "Configuration has problems (1 error(s), 1 warning(s))"))
	assert.Contains(t, human, "ERROR [shell] no shell")
	assert.Contains(t, human, "WARN  [audit] audit.retention: never pruned")

	js, err := FormatJSON(r)
	require.NoError(t, err)
	assert.Contains(t, js, `"category": "shell"`)
}
