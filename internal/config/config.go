// Package config loads runtime settings. Sources are applied in order:
// built-in defaults, an optional YAML file, a .env file, then BLUEPRINT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alexanderramin/blueprint/internal/llm"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects where session snapshots are kept.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	DSN    string `yaml:"dsn"`  // postgres connection string
}

// ArchiveConfig configures the S3-compatible archive for finished sessions.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ServerConfig configures `blueprint serve`.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig tunes the session host.
type SessionConfig struct {
	CacheSize        int `yaml:"cache_size"`
	HistoryLimit     int `yaml:"history_limit"`
	ComposeTimeoutMs int `yaml:"compose_timeout_ms"`
	PersistAttempts  int `yaml:"persist_attempts"`
	PersistBackoffMs int `yaml:"persist_backoff_ms"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full runtime configuration.
type Config struct {
	LLM       llm.LLMConfig   `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration: local SQLite under
// ~/.blueprint, generation disabled, no archive, no tracing.
func Default() Config {
	return Config{
		LLM: llm.DefaultConfig(),
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(homeDir(), ".blueprint", "blueprint.db"),
		},
		Archive: ArchiveConfig{Prefix: "sessions"},
		Server:  ServerConfig{Addr: ":8080"},
		Session: SessionConfig{
			CacheSize:        256,
			HistoryLimit:     10,
			ComposeTimeoutMs: 8000,
			PersistAttempts:  4,
			PersistBackoffMs: 100,
		},
		Telemetry: TelemetryConfig{OTLPEndpoint: "localhost:4317", ServiceName: "blueprint"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath is the YAML file read when no path is given.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".blueprint", "config.yaml")
}

// Load builds the configuration. An empty path reads DefaultPath when it
// exists; an explicit path must exist. envFile names the dotenv file,
// ignored when missing.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := applyFile(&cfg, path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		if err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays BLUEPRINT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	llm.ApplyEnv(&cfg.LLM)

	setString(&cfg.Store.Driver, "BLUEPRINT_STORE_DRIVER")
	setString(&cfg.Store.Path, "BLUEPRINT_DB")
	setString(&cfg.Store.DSN, "BLUEPRINT_PG_DSN")

	setBool(&cfg.Archive.Enabled, "BLUEPRINT_ARCHIVE_ENABLED")
	setString(&cfg.Archive.Endpoint, "BLUEPRINT_ARCHIVE_ENDPOINT")
	setString(&cfg.Archive.Region, "BLUEPRINT_ARCHIVE_REGION")
	setString(&cfg.Archive.AccessKey, "BLUEPRINT_ARCHIVE_ACCESS_KEY")
	setString(&cfg.Archive.SecretKey, "BLUEPRINT_ARCHIVE_SECRET_KEY")
	setString(&cfg.Archive.Bucket, "BLUEPRINT_ARCHIVE_BUCKET")
	setString(&cfg.Archive.Prefix, "BLUEPRINT_ARCHIVE_PREFIX")
	setBool(&cfg.Archive.UseSSL, "BLUEPRINT_ARCHIVE_USE_SSL")

	setString(&cfg.Server.Addr, "BLUEPRINT_ADDR")
	if v := os.Getenv("BLUEPRINT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setInt(&cfg.Session.CacheSize, "BLUEPRINT_CACHE_SIZE")
	setInt(&cfg.Session.HistoryLimit, "BLUEPRINT_HISTORY_LIMIT")
	setInt(&cfg.Session.ComposeTimeoutMs, "BLUEPRINT_COMPOSE_TIMEOUT_MS")
	setInt(&cfg.Session.PersistAttempts, "BLUEPRINT_PERSIST_ATTEMPTS")
	setInt(&cfg.Session.PersistBackoffMs, "BLUEPRINT_PERSIST_BACKOFF_MS")

	setBool(&cfg.Telemetry.Enabled, "BLUEPRINT_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "BLUEPRINT_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "BLUEPRINT_SERVICE_NAME")

	setString(&cfg.Log.Level, "BLUEPRINT_LOG_LEVEL")
	setString(&cfg.Log.Format, "BLUEPRINT_LOG_FORMAT")
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive.endpoint and archive.bucket are required when the archive is enabled"))
	}
	if c.Session.CacheSize <= 0 {
		errs = append(errs, errors.New("session.cache_size must be positive"))
	}
	if c.Session.HistoryLimit <= 0 {
		errs = append(errs, errors.New("session.history_limit must be positive"))
	}
	if c.LLM.Enabled {
		switch c.LLM.Provider {
		case llm.ProviderOllama, llm.ProviderGemini:
		default:
			errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
