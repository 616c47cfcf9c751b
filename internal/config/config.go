// Package config loads the assay service configuration: an optional config.toml,
// an optional config.<ASSAY_ENV>.toml overlay, then ASSAY_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/pkg/auth"
	"github.com/JaimeStill/assay/pkg/database"
	"github.com/JaimeStill/assay/pkg/locks"
	"github.com/JaimeStill/assay/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvAssayEnv             = "ASSAY_ENV"
	EnvAssayShutdownTimeout = "ASSAY_SHUTDOWN_TIMEOUT"
	EnvAssayVersion         = "ASSAY_VERSION"
)

// DatabaseEnv names the database variables; cmd/migrate reads the same set.
var DatabaseEnv = &database.Env{
	URL:             "ASSAY_DB_URL",
	Host:            "ASSAY_DB_HOST",
	Port:            "ASSAY_DB_PORT",
	Name:            "ASSAY_DB_NAME",
	User:            "ASSAY_DB_USER",
	Password:        "ASSAY_DB_PASSWORD",
	SSLMode:         "ASSAY_DB_SSL_MODE",
	MaxOpenConns:    "ASSAY_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "ASSAY_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "ASSAY_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "ASSAY_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "ASSAY_STORAGE_CONTAINER_NAME",
	ConnectionString: "ASSAY_STORAGE_CONNECTION_STRING",
	ServiceURL:       "ASSAY_STORAGE_SERVICE_URL",
}

var extractionEnv = &extraction.Env{
	Engine:        "ASSAY_EXTRACTION_ENGINE",
	Endpoint:      "ASSAY_EXTRACTION_ENDPOINT",
	Token:         "ASSAY_EXTRACTION_TOKEN",
	Timeout:       "ASSAY_EXTRACTION_TIMEOUT",
	Workers:       "ASSAY_EXTRACTION_WORKERS",
	QueueSize:     "ASSAY_EXTRACTION_QUEUE_SIZE",
	StaleTimeout:  "ASSAY_EXTRACTION_STALE_TIMEOUT",
	SweepInterval: "ASSAY_EXTRACTION_SWEEP_INTERVAL",
	StubGrade:     "ASSAY_EXTRACTION_STUB_GRADE",
}

var locksEnv = &locks.Env{
	Backend:       "ASSAY_LOCKS_BACKEND",
	RedisURL:      "ASSAY_LOCKS_REDIS_URL",
	KeyPrefix:     "ASSAY_LOCKS_KEY_PREFIX",
	TTL:           "ASSAY_LOCKS_TTL",
	RetryInterval: "ASSAY_LOCKS_RETRY_INTERVAL",
}

var authEnv = &auth.Env{
	Enabled:    "ASSAY_AUTH_ENABLED",
	Issuer:     "ASSAY_AUTH_ISSUER",
	Audience:   "ASSAY_AUTH_AUDIENCE",
	JWKSURL:    "ASSAY_AUTH_JWKS_URL",
	QueryParam: "ASSAY_AUTH_QUERY_PARAM",
}

// Config is the root configuration for the assay service.
type Config struct {
	Server          ServerConfig      `toml:"server"`
	Database        database.Config   `toml:"database"`
	Storage         storage.Config    `toml:"storage"`
	API             APIConfig         `toml:"api"`
	Extraction      extraction.Config `toml:"extraction"`
	Locks           locks.Config      `toml:"locks"`
	Auth            auth.Config       `toml:"auth"`
	ShutdownTimeout string            `toml:"shutdown_timeout"`
	Version         string            `toml:"version"`
}

// Env returns the ASSAY_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvAssayEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Extraction.Merge(&overlay.Extraction)
	c.Locks.Merge(&overlay.Locks)
	c.Auth.Merge(&overlay.Auth)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(DatabaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Extraction.Finalize(extractionEnv); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if err := c.Locks.Finalize(locksEnv); err != nil {
		return fmt.Errorf("locks: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvAssayShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvAssayVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvAssayEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
