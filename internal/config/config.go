// Package config loads dafny-mcp settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings configures the verifier session.
type Settings struct {
	// ServerPath is the verifier binary (DafnyServer, DafnyServer.exe, ...).
	ServerPath string `yaml:"server_path"`
	// ServerArgs are passed to the verifier on every spawn.
	ServerArgs []string `yaml:"server_args,omitempty"`

	// UseRuntime forces hosting the server in a managed runtime. A .exe server
	// on a non-Windows host always needs one.
	UseRuntime  bool   `yaml:"use_runtime"`
	RuntimeName string `yaml:"runtime_name"`
	RuntimePath string `yaml:"runtime_path,omitempty"`

	WorkingDir string `yaml:"working_dir,omitempty"`

	// VerificationArgs go into the args field of every task descriptor.
	VerificationArgs []string `yaml:"verification_args,omitempty"`

	AutomaticVerification      bool          `yaml:"automatic_verification"`
	AutomaticVerificationDelay time.Duration `yaml:"automatic_verification_delay"`
	WatchDirs                  []string      `yaml:"watch_dirs,omitempty"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultSettings returns built-in defaults used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		RuntimeName:                "mono",
		VerificationArgs:           []string{"/compile:0", "/timeLimit:20", "/autoTriggers:1"},
		AutomaticVerification:      true,
		AutomaticVerificationDelay: 700 * time.Millisecond,
		MaxRetries:                 5,
		RetryDelay:                 time.Second,
		RequestTimeout:             2 * time.Minute,
		LogLevel:                   "info",
	}
}

// DefaultPath returns ~/.config/dafny-mcp/config.yaml (or the platform
// equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "dafny-mcp", "config.yaml")
}

// Load reads settings from path on top of the defaults. A missing file is not
// an error: defaults are returned with found=false.
func Load(path string) (Settings, bool, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, true, err
	}
	return s, true, nil
}

// Save writes s to path, creating parent directories.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the supervisor cannot work with. An empty server
// path is allowed here; it is reported when the session starts.
func (s Settings) Validate() error {
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", s.MaxRetries)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be >= 0, got %s", s.RetryDelay)
	}
	if s.AutomaticVerificationDelay < 0 {
		return fmt.Errorf("automatic_verification_delay must be >= 0, got %s", s.AutomaticVerificationDelay)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (s Settings) SlogLevel() slog.Level {
	l, err := parseLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", name)
}
