package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/frecent/internal/engine"
)

// Environment variables consulted by Resolve.
const (
	EnvConfig   = "FRECENT_CONFIG"
	EnvDB       = "FRECENT_DB"
	EnvBind     = "FRECENT_BIND"
	EnvPort     = "FRECENT_PORT"
	EnvLogLevel = "FRECENT_LOG_LEVEL"
)

// Config holds all frecent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Frecency FrecencyConfig `yaml:"frecency"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty means store.DefaultDBPath()
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type TrackerConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// FrecencyConfig seeds the engine settings until the user edits them
// through the API, after which the persisted settings win.
type FrecencyConfig struct {
	MaxAge             float64  `yaml:"max_age"`
	MaxItems           int      `yaml:"max_items"`
	ExcludePathPattern string   `yaml:"exclude_path_pattern"`
	ExcludeGlobs       []string `yaml:"exclude_globs"`
	RecordOnEveryVisit bool     `yaml:"record_on_every_visit"`
	ShowExtension      bool     `yaml:"show_extension"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	s := engine.DefaultSettings()
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracker: TrackerConfig{
			DebounceMS: int(engine.DefaultDebounce / time.Millisecond),
		},
		Frecency: FrecencyConfig{
			MaxAge:   s.MaxAge,
			MaxItems: s.MaxItems,
		},
	}
}

// DefaultPath returns ~/.frecent/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".frecent", "config.yaml"), nil
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrCreateAt loads the config at path, writing the defaults there first
// if the file does not exist.
func LoadOrCreateAt(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then the config
// file ($FRECENT_CONFIG or ~/.frecent/config.yaml, skipped if absent), then
// environment overrides.
func Resolve() (Config, error) {
	cfg := Default()

	path := os.Getenv(EnvConfig)
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	loaded, err := Load(path)
	switch {
	case err == nil:
		cfg = loaded
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from FRECENT_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDB); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvBind); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Tracker.DebounceMS < 0 {
		return fmt.Errorf("tracker.debounce_ms must not be negative")
	}
	if c.Frecency.MaxItems < 0 {
		return fmt.Errorf("frecency.max_items must not be negative")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Debounce returns the tracker save delay.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Tracker.DebounceMS) * time.Millisecond
}

// Settings converts the frecency section into engine settings.
func (c *Config) Settings() engine.Settings {
	f := c.Frecency
	return engine.Settings{
		MaxAge:             f.MaxAge,
		MaxItems:           f.MaxItems,
		ExcludePathPattern: f.ExcludePathPattern,
		ExcludeGlobs:       append([]string(nil), f.ExcludeGlobs...),
		RecordOnEveryVisit: f.RecordOnEveryVisit,
		ShowExtension:      f.ShowExtension,
	}
}

// ParseLogLevel maps a level name to a slog.Level. Empty means info.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger returns a text logger writing to stderr at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLogLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
