package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/JaimeStill/assay/pkg/formatting"
	"github.com/JaimeStill/assay/pkg/middleware"
	"github.com/JaimeStill/assay/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "ASSAY_CORS_ENABLED",
	Origins:          "ASSAY_CORS_ORIGINS",
	AllowedMethods:   "ASSAY_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "ASSAY_CORS_ALLOWED_HEADERS",
	ExposedHeaders:   "ASSAY_CORS_EXPOSED_HEADERS",
	AllowCredentials: "ASSAY_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "ASSAY_CORS_MAX_AGE",
}

var paginationEnv = &pagination.Env{
	DefaultPageSize: "ASSAY_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "ASSAY_PAGINATION_MAX_PAGE_SIZE",
}

const (
	EnvAPIBasePath       = "ASSAY_API_BASE_PATH"
	EnvAPIMaxUploadSize  = "ASSAY_API_MAX_UPLOAD_SIZE"
	EnvAPIMaxRequestSize = "ASSAY_API_MAX_REQUEST_SIZE"
	EnvAPIAcceptedTypes  = "ASSAY_API_ACCEPTED_TYPES"
	EnvAPIPollInterval   = "ASSAY_API_POLL_INTERVAL"
)

// APIConfig holds API routing, intake limits, polling, CORS, and pagination settings.
type APIConfig struct {
	BasePath       string                `toml:"base_path"`
	MaxUploadSize  string                `toml:"max_upload_size"`
	MaxRequestSize string                `toml:"max_request_size"`
	AcceptedTypes  []string              `toml:"accepted_types"`
	PollInterval   string                `toml:"poll_interval"`
	CORS           middleware.CORSConfig `toml:"cors"`
	Pagination     pagination.Config     `toml:"pagination"`
}

// MaxUploadSizeBytes returns the largest accepted document in bytes.
func (c *APIConfig) MaxUploadSizeBytes() int64 {
	size, _ := formatting.ParseBytes(c.MaxUploadSize)
	return size
}

// MaxRequestSizeBytes returns the largest accepted request body in bytes.
func (c *APIConfig) MaxRequestSizeBytes() int64 {
	size, _ := formatting.ParseBytes(c.MaxRequestSize)
	return size
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (c *APIConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested CORS and pagination configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MaxUploadSize != "" {
		c.MaxUploadSize = overlay.MaxUploadSize
	}
	if overlay.MaxRequestSize != "" {
		c.MaxRequestSize = overlay.MaxRequestSize
	}
	if len(overlay.AcceptedTypes) > 0 {
		c.AcceptedTypes = overlay.AcceptedTypes
	}
	if overlay.PollInterval != "" {
		c.PollInterval = overlay.PollInterval
	}

	c.CORS.Merge(&overlay.CORS)
	c.Pagination.Merge(&overlay.Pagination)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "25MB"
	}
	if c.MaxRequestSize == "" {
		c.MaxRequestSize = "100MB"
	}
	if len(c.AcceptedTypes) == 0 {
		c.AcceptedTypes = []string{"application/pdf"}
	}
	if c.PollInterval == "" {
		c.PollInterval = "5s"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv(EnvAPIBasePath); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv(EnvAPIMaxUploadSize); v != "" {
		c.MaxUploadSize = v
	}
	if v := os.Getenv(EnvAPIMaxRequestSize); v != "" {
		c.MaxRequestSize = v
	}
	if v := os.Getenv(EnvAPIAcceptedTypes); v != "" {
		var types []string
		for t := range strings.SplitSeq(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		c.AcceptedTypes = types
	}
	if v := os.Getenv(EnvAPIPollInterval); v != "" {
		c.PollInterval = v
	}
}

func (c *APIConfig) validate() error {
	upload, err := formatting.ParseBytes(c.MaxUploadSize)
	if err != nil || upload <= 0 {
		return fmt.Errorf("invalid max_upload_size: %q", c.MaxUploadSize)
	}
	request, err := formatting.ParseBytes(c.MaxRequestSize)
	if err != nil || request <= 0 {
		return fmt.Errorf("invalid max_request_size: %q", c.MaxRequestSize)
	}
	if request < upload {
		return fmt.Errorf("max_request_size %s is smaller than max_upload_size %s", c.MaxRequestSize, c.MaxUploadSize)
	}
	if len(c.AcceptedTypes) == 0 {
		return fmt.Errorf("accepted_types must not be empty")
	}
	if d, err := time.ParseDuration(c.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid poll_interval: %q", c.PollInterval)
	}
	return nil
}
