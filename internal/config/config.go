// ABOUTME: Configuration loading and parsing for secret-agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/secret-agent/internal/signlock"
)

const (
	DefaultSocketMode   os.FileMode = 0o600
	DefaultNotifyWindow             = 30 * time.Second
	DefaultSignTimeout              = 60 * time.Second
	DefaultAuditPath                = "~/.local/state/secret-agent/audit.db"
)

// Config represents the complete secret-agent configuration
type Config struct {
	Socket  SocketConfig  `yaml:"socket" toml:"socket"`
	Signing SigningConfig `yaml:"signing" toml:"signing"`
	Stores  []StoreConfig `yaml:"stores" toml:"stores"`
	Audit   AuditConfig   `yaml:"audit" toml:"audit"`
	Notify  NotifyConfig  `yaml:"notify" toml:"notify"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// SocketConfig holds the listening socket configuration
type SocketConfig struct {
	Path string      `yaml:"path" toml:"path"`
	Mode os.FileMode `yaml:"-" toml:"-"`

	ModeRaw string `yaml:"mode" toml:"mode"`
}

// SigningConfig holds signing serialization configuration
type SigningConfig struct {
	Scope signlock.Scope `yaml:"-" toml:"-"`

	SerializeRaw string `yaml:"serialize" toml:"serialize"`
}

// StoreConfig describes one key store
type StoreConfig struct {
	Name            string        `yaml:"name" toml:"name"`
	Type            string        `yaml:"type" toml:"type"`
	Path            string        `yaml:"path" toml:"path"`
	RequireAuth     bool          `yaml:"require_auth" toml:"require_auth"`
	RequireAuthKeys []string      `yaml:"require_auth_keys" toml:"require_auth_keys"`
	SignTimeout     time.Duration `yaml:"-" toml:"-"`

	SignTimeoutRaw string `yaml:"sign_timeout" toml:"sign_timeout"`
}

// AuditConfig holds the sign audit trail configuration
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// NotifyConfig holds access notice configuration
type NotifyConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Window  time.Duration `yaml:"-" toml:"-"`

	WindowRaw string `yaml:"window" toml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// StoreTypeFile is the only built-in store type.
const StoreTypeFile = "file"

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes config data. isTOML selects the TOML decoder.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseRaw(&cfg); err != nil {
		return nil, fmt.Errorf("parsing values: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// parseRaw converts the raw string fields into their typed values
func parseRaw(cfg *Config) error {
	var err error

	if cfg.Socket.ModeRaw != "" {
		mode, err := strconv.ParseUint(cfg.Socket.ModeRaw, 8, 32)
		if err != nil {
			return fmt.Errorf("parsing socket.mode %q: %w", cfg.Socket.ModeRaw, err)
		}
		cfg.Socket.Mode = os.FileMode(mode)
	}

	cfg.Signing.Scope, err = signlock.ParseScope(cfg.Signing.SerializeRaw)
	if err != nil {
		return fmt.Errorf("parsing signing.serialize: %w", err)
	}

	if cfg.Notify.WindowRaw != "" {
		cfg.Notify.Window, err = time.ParseDuration(cfg.Notify.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing notify.window %q: %w", cfg.Notify.WindowRaw, err)
		}
	}

	for i := range cfg.Stores {
		s := &cfg.Stores[i]
		if s.SignTimeoutRaw == "" {
			continue
		}
		s.SignTimeout, err = time.ParseDuration(s.SignTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stores[%d].sign_timeout %q: %w", i, s.SignTimeoutRaw, err)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Socket.Mode == 0 {
		cfg.Socket.Mode = DefaultSocketMode
	}
	if cfg.Notify.WindowRaw == "" {
		cfg.Notify.Window = DefaultNotifyWindow
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	for i := range cfg.Stores {
		s := &cfg.Stores[i]
		if s.Type == "" {
			s.Type = StoreTypeFile
		}
		if s.SignTimeout == 0 {
			s.SignTimeout = DefaultSignTimeout
		}
	}
}

func (c *Config) expandPaths() error {
	var err error
	if c.Socket.Path, err = ExpandHome(c.Socket.Path); err != nil {
		return err
	}
	if c.Audit.Path, err = ExpandHome(c.Audit.Path); err != nil {
		return err
	}
	for i := range c.Stores {
		if c.Stores[i].Path, err = ExpandHome(c.Stores[i].Path); err != nil {
			return err
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	if c.Socket.Mode&^os.ModePerm != 0 {
		return fmt.Errorf("socket.mode %o has bits outside the permission range", c.Socket.Mode)
	}

	if len(c.Stores) == 0 {
		return fmt.Errorf("at least one store is required")
	}
	names := make(map[string]bool, len(c.Stores))
	for i, s := range c.Stores {
		if s.Name == "" {
			return fmt.Errorf("stores[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("stores[%d].name %q is used more than once", i, s.Name)
		}
		names[s.Name] = true

		if s.Type != StoreTypeFile {
			return fmt.Errorf("stores[%d].type %q is not supported", i, s.Type)
		}
		if s.Path == "" {
			return fmt.Errorf("stores[%d].path is required", i)
		}
		if s.SignTimeout < 0 {
			return fmt.Errorf("stores[%d].sign_timeout must be positive", i)
		}
	}

	if c.Notify.Window < 0 {
		return fmt.Errorf("notify.window must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}
