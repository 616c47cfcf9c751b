package auth

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds token verification settings.
type Config struct {
	Enabled    bool   `toml:"enabled"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
	JWKSURL    string `toml:"jwks_url"`
	QueryParam string `toml:"query_param"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled    string
	Issuer     string
	Audience   string
	JWKSURL    string
	QueryParam string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if env != nil {
		c.loadEnv(env)
	}
	c.loadDefaults()
	return c.validate()
}

// Merge overwrites fields from overlay. Enabled always applies.
func (c *Config) Merge(overlay *Config) {
	c.Enabled = overlay.Enabled
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.Audience != "" {
		c.Audience = overlay.Audience
	}
	if overlay.JWKSURL != "" {
		c.JWKSURL = overlay.JWKSURL
	}
	if overlay.QueryParam != "" {
		c.QueryParam = overlay.QueryParam
	}
}

func (c *Config) loadDefaults() {
	if c.QueryParam == "" {
		c.QueryParam = "access_token"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				c.Enabled = enabled
			}
		}
	}
	if env.Issuer != "" {
		if v := os.Getenv(env.Issuer); v != "" {
			c.Issuer = v
		}
	}
	if env.Audience != "" {
		if v := os.Getenv(env.Audience); v != "" {
			c.Audience = v
		}
	}
	if env.JWKSURL != "" {
		if v := os.Getenv(env.JWKSURL); v != "" {
			c.JWKSURL = v
		}
	}
	if env.QueryParam != "" {
		if v := os.Getenv(env.QueryParam); v != "" {
			c.QueryParam = v
		}
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer required when auth is enabled")
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("jwks_url required when auth is enabled")
	}
	return nil
}
