package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file, or from config.yaml inside a directory.
// Values are layered over Defaults(); files named in include are applied in
// order after the file that names them.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := Defaults()
	visited := make(map[string]bool)
	rootIncludes, err := loadInto(cfg, absPath, visited)
	if err != nil {
		return nil, err
	}
	cfg.Include = rootIncludes

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadInto decodes path over cfg, then its includes. It returns the
// include list declared by path itself.
func loadInto(cfg *Config, path string, visited map[string]bool) ([]string, error) {
	if visited[path] {
		return nil, fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true
	cfg.SourceFiles = append(cfg.SourceFiles, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	data = []byte(interpolateEnv(string(data)))

	var head struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i, inc := range head.Include {
		resolved := inc
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, resolved)
		}
		if _, err := os.Stat(resolved); err != nil {
			return nil, fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, resolved, path)
		}
		if _, err := loadInto(cfg, resolved, visited); err != nil {
			return nil, fmt.Errorf("include[%d] (%s): %w", i, inc, err)
		}
	}
	return head.Include, nil
}

// applyConfigDefaults fills fields explicitly set to their zero value.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}
	if cfg.Server.MaxFrameSize == 0 {
		cfg.Server.MaxFrameSize = defaults.Server.MaxFrameSize
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = defaults.Client.Timeout
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place and caught by validate where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return fmt.Errorf("server.listen %q: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.MaxFrameSize < 0 {
		return fmt.Errorf("server.max_frame_size must be positive")
	}
	if cfg.Server.CompressThreshold < 0 {
		return fmt.Errorf("server.compress_threshold must be >= 0 (0 disables compression)")
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			return fmt.Errorf("audit.path is required when audit is enabled")
		}
		if cfg.Audit.Retention < 0 {
			return fmt.Errorf("audit.retention must be >= 0 (0 keeps everything)")
		}
	}

	if cfg.API.Enabled {
		if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
			return fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err)
		}
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkUnresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when api is enabled")
		}
	}

	if cfg.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// DiscoverConfigPath finds a config file by checking standard locations.
// Priority order: $TASKLOG_CONFIG, ~/.config/tasklog/config.yaml,
// /etc/tasklog/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("TASKLOG_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "tasklog", "config.yaml"))
	}
	candidates = append(candidates, "/etc/tasklog/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $TASKLOG_CONFIG, %s)", strings.Join(candidates, ", "))
}
