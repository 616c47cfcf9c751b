package extraction

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Supported engines.
const (
	EngineHTTP = "http"
	EngineStub = "stub"
)

// Config holds extraction engine, worker queue, and timeout policy parameters.
type Config struct {
	Engine        string `toml:"engine"`
	Endpoint      string `toml:"endpoint"`
	Token         string `toml:"token"`
	Timeout       string `toml:"timeout"`
	Workers       int    `toml:"workers"`
	QueueSize     int    `toml:"queue_size"`
	StaleTimeout  string `toml:"stale_timeout"`
	SweepInterval string `toml:"sweep_interval"`
	StubGrade     string `toml:"stub_grade"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Engine        string
	Endpoint      string
	Token         string
	Timeout       string
	Workers       string
	QueueSize     string
	StaleTimeout  string
	SweepInterval string
	StubGrade     string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// StaleTimeoutDuration returns StaleTimeout as a time.Duration. Zero disables the sweep.
func (c *Config) StaleTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.StaleTimeout)
	return d
}

// SweepIntervalDuration returns SweepInterval as a time.Duration.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		if err := c.loadEnv(env); err != nil {
			return err
		}
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Engine != "" {
		c.Engine = overlay.Engine
	}
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.Token != "" {
		c.Token = overlay.Token
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.QueueSize != 0 {
		c.QueueSize = overlay.QueueSize
	}
	if overlay.StaleTimeout != "" {
		c.StaleTimeout = overlay.StaleTimeout
	}
	if overlay.SweepInterval != "" {
		c.SweepInterval = overlay.SweepInterval
	}
	if overlay.StubGrade != "" {
		c.StubGrade = overlay.StubGrade
	}
}

func (c *Config) loadDefaults() {
	if c.Engine == "" {
		c.Engine = EngineStub
	}
	if c.Timeout == "" {
		c.Timeout = "3m"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.StaleTimeout == "" {
		c.StaleTimeout = "30m"
	}
	if c.SweepInterval == "" {
		c.SweepInterval = "1m"
	}
	if c.StubGrade == "" {
		c.StubGrade = "B"
	}
}

func (c *Config) loadEnv(env *Env) error {
	if env.Engine != "" {
		if v := os.Getenv(env.Engine); v != "" {
			c.Engine = v
		}
	}
	if env.Endpoint != "" {
		if v := os.Getenv(env.Endpoint); v != "" {
			c.Endpoint = v
		}
	}
	if env.Token != "" {
		if v := os.Getenv(env.Token); v != "" {
			c.Token = v
		}
	}
	if env.Timeout != "" {
		if v := os.Getenv(env.Timeout); v != "" {
			c.Timeout = v
		}
	}
	if env.Workers != "" {
		if v := os.Getenv(env.Workers); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", env.Workers, err)
			}
			c.Workers = n
		}
	}
	if env.QueueSize != "" {
		if v := os.Getenv(env.QueueSize); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", env.QueueSize, err)
			}
			c.QueueSize = n
		}
	}
	if env.StaleTimeout != "" {
		if v := os.Getenv(env.StaleTimeout); v != "" {
			c.StaleTimeout = v
		}
	}
	if env.SweepInterval != "" {
		if v := os.Getenv(env.SweepInterval); v != "" {
			c.SweepInterval = v
		}
	}
	if env.StubGrade != "" {
		if v := os.Getenv(env.StubGrade); v != "" {
			c.StubGrade = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Engine {
	case EngineStub:
	case EngineHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint required for http engine")
		}
	default:
		return fmt.Errorf("invalid engine: %q", c.Engine)
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid timeout: %q", c.Timeout)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if d, err := time.ParseDuration(c.StaleTimeout); err != nil || d < 0 {
		return fmt.Errorf("invalid stale_timeout: %q", c.StaleTimeout)
	}
	if d, err := time.ParseDuration(c.SweepInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid sweep_interval: %q", c.SweepInterval)
	}
	switch c.StubGrade {
	case "A", "B", "C":
	default:
		return fmt.Errorf("invalid stub_grade: %q", c.StubGrade)
	}
	return nil
}
