package locks

import (
	"fmt"
	"os"
	"time"
)

// Supported lock backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds lock backend parameters.
type Config struct {
	Backend       string `toml:"backend"`
	RedisURL      string `toml:"redis_url"`
	KeyPrefix     string `toml:"key_prefix"`
	TTL           string `toml:"ttl"`
	RetryInterval string `toml:"retry_interval"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Backend       string
	RedisURL      string
	KeyPrefix     string
	TTL           string
	RetryInterval string
}

// TTLDuration returns TTL as a time.Duration.
func (c *Config) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// RetryIntervalDuration returns RetryInterval as a time.Duration.
func (c *Config) RetryIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.RedisURL != "" {
		c.RedisURL = overlay.RedisURL
	}
	if overlay.KeyPrefix != "" {
		c.KeyPrefix = overlay.KeyPrefix
	}
	if overlay.TTL != "" {
		c.TTL = overlay.TTL
	}
	if overlay.RetryInterval != "" {
		c.RetryInterval = overlay.RetryInterval
	}
}

func (c *Config) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "assay:lock:"
	}
	if c.TTL == "" {
		c.TTL = "30s"
	}
	if c.RetryInterval == "" {
		c.RetryInterval = "50ms"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Backend != "" {
		if v := os.Getenv(env.Backend); v != "" {
			c.Backend = v
		}
	}
	if env.RedisURL != "" {
		if v := os.Getenv(env.RedisURL); v != "" {
			c.RedisURL = v
		}
	}
	if env.KeyPrefix != "" {
		if v := os.Getenv(env.KeyPrefix); v != "" {
			c.KeyPrefix = v
		}
	}
	if env.TTL != "" {
		if v := os.Getenv(env.TTL); v != "" {
			c.TTL = v
		}
	}
	if env.RetryInterval != "" {
		if v := os.Getenv(env.RetryInterval); v != "" {
			c.RetryInterval = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url required for redis backend")
		}
	default:
		return fmt.Errorf("invalid backend: %q", c.Backend)
	}
	if d, err := time.ParseDuration(c.TTL); err != nil || d <= 0 {
		return fmt.Errorf("invalid ttl: %q", c.TTL)
	}
	if d, err := time.ParseDuration(c.RetryInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid retry_interval: %q", c.RetryInterval)
	}
	return nil
}
