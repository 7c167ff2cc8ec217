package config

import "time"

// Config represents the complete tasklog configuration.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	Server  ServerConfig  `yaml:"server"`
	Audit   AuditConfig   `yaml:"audit"`
	API     APIConfig     `yaml:"api,omitempty"`
	Client  ClientConfig  `yaml:"client"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// ServerConfig defines the worker command listener.
type ServerConfig struct {
	Listen            string `yaml:"listen"`
	MaxFrameSize      int    `yaml:"max_frame_size"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

// AuditConfig defines the served-command audit log.
type AuditConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// CORSOrigins enables CORS for browser dashboards on other origins.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ClientConfig defines how this node talks to other workers.
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tasklog",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/tasklog.lock",
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:1234",
			MaxFrameSize:      64 << 20,
			CompressThreshold: 64 << 10,
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      "./data/audit.db",
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Client: ClientConfig{
			Timeout: 30 * time.Second,
		},
	}
}
