package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/internal/config"
	"github.com/JaimeStill/assay/pkg/locks"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080

[database]
host = "localhost"
port = 5432
name = "assay"
user = "assay"
password = "assay"

[storage]
container_name = "audits"
connection_string = "DefaultEndpointsProtocol=http;AccountName=assaystore;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/assaystore;"

[api]
base_path = "/api"

[api.pagination]
default_page_size = 25
max_page_size = 50

[extraction]
engine = "http"
endpoint = "http://extractor:9000/extract"
workers = 2
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[extraction]
workers = 8

[locks]
backend = "redis"
redis_url = "redis://cache:6379/0"
`

const minimalConfig = `
[database]
name = "assay"
user = "assay"

[storage]
connection_string = "conn"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))
}

func load(t *testing.T, files map[string]string) (*config.Config, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeConfig(t, dir, name, content)
	}
	t.Chdir(dir)
	return config.Load()
}

func TestLoad(t *testing.T) {
	cfg, err := load(t, map[string]string{config.BaseConfigFile: baseConfig})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "audits", cfg.Storage.ContainerName)
	assert.Equal(t, "/api", cfg.API.BasePath)
	assert.Equal(t, 25, cfg.API.Pagination.DefaultPageSize)
	assert.Equal(t, 50, cfg.API.Pagination.MaxPageSize)
	assert.Equal(t, "http", cfg.Extraction.Engine)
	assert.Equal(t, 2, cfg.Extraction.Workers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeoutDuration())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadWithOverlay(t *testing.T) {
	t.Setenv(config.EnvAssayEnv, "staging")

	cfg, err := load(t, map[string]string{
		config.BaseConfigFile: baseConfig,
		"config.staging.toml": overlayConfig,
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "prodhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port, "base value survives the overlay")
	assert.Equal(t, 8, cfg.Extraction.Workers)
	assert.Equal(t, "http://extractor:9000/extract", cfg.Extraction.Endpoint)
	assert.Equal(t, locks.BackendRedis, cfg.Locks.Backend)
	assert.Equal(t, "staging", cfg.Env())
}

func TestLoadEnvVarOverrides(t *testing.T) {
	t.Setenv("ASSAY_VERSION", "2.0.0")
	t.Setenv("ASSAY_SERVER_PORT", "3000")
	t.Setenv("ASSAY_DB_URL", "postgres://assay:assay@db:5432/assay")
	t.Setenv("ASSAY_EXTRACTION_WORKERS", "6")
	t.Setenv("ASSAY_API_ACCEPTED_TYPES", "application/pdf, image/png")

	cfg, err := load(t, map[string]string{config.BaseConfigFile: baseConfig})
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "postgres://assay:assay@db:5432/assay", cfg.Database.Dsn())
	assert.Equal(t, 6, cfg.Extraction.Workers)
	assert.Equal(t, []string{"application/pdf", "image/png"}, cfg.API.AcceptedTypes)
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Setenv("ASSAY_DB_NAME", "testdb")
	t.Setenv("ASSAY_DB_USER", "testuser")
	t.Setenv("ASSAY_STORAGE_CONNECTION_STRING", "conn")

	cfg, err := load(t, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "testdb", cfg.Database.Name)
	assert.Equal(t, "local", cfg.Env())
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{config.BaseConfigFile: minimalConfig})
	require.NoError(t, err)

	assert.Equal(t, int64(25*1024*1024), cfg.API.MaxUploadSizeBytes())
	assert.Equal(t, int64(100*1024*1024), cfg.API.MaxRequestSizeBytes())
	assert.Equal(t, []string{"application/pdf"}, cfg.API.AcceptedTypes)
	assert.Equal(t, 5*time.Second, cfg.API.PollIntervalDuration())
	assert.Equal(t, "stub", cfg.Extraction.Engine)
	assert.Equal(t, locks.BackendMemory, cfg.Locks.Backend)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "access_token", cfg.Auth.QueryParam)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeoutDuration())
	assert.Equal(t, "0.1.0", cfg.Version)
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := load(t, map[string]string{config.BaseConfigFile: `[server`})
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
		env    map[string]string
	}{
		{"port out of range", minimalConfig, map[string]string{"ASSAY_SERVER_PORT": "70000"}},
		{"bad server timeout", minimalConfig, map[string]string{"ASSAY_SERVER_IDLE_TIMEOUT": "soon"}},
		{"bad shutdown timeout", minimalConfig, map[string]string{"ASSAY_SHUTDOWN_TIMEOUT": "later"}},
		{"request smaller than upload", minimalConfig, map[string]string{"ASSAY_API_MAX_REQUEST_SIZE": "10MB"}},
		{"bad upload size", minimalConfig, map[string]string{"ASSAY_API_MAX_UPLOAD_SIZE": "lots"}},
		{"bad poll interval", minimalConfig, map[string]string{"ASSAY_API_POLL_INTERVAL": "0s"}},
		{"http engine without endpoint", minimalConfig, map[string]string{"ASSAY_EXTRACTION_ENGINE": "http"}},
		{"redis without url", minimalConfig, map[string]string{"ASSAY_LOCKS_BACKEND": "redis"}},
		{"auth without issuer", minimalConfig, map[string]string{"ASSAY_AUTH_ENABLED": "true"}},
		{"missing storage", "[database]\nname = \"assay\"\nuser = \"assay\"\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(t, map[string]string{config.BaseConfigFile: tt.config})
			assert.Error(t, err)
		})
	}
}
