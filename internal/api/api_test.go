package api_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/internal/api"
	"github.com/JaimeStill/assay/internal/config"
	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/internal/infrastructure"
	"github.com/JaimeStill/assay/pkg/auth"
	"github.com/JaimeStill/assay/pkg/database"
	"github.com/JaimeStill/assay/pkg/locks"
	"github.com/JaimeStill/assay/pkg/pagination"
	"github.com/JaimeStill/assay/pkg/storage"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=assaystore;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/assaystore;"

func validConfig() *config.Config {
	return &config.Config{
		Database: database.Config{
			Host:            "localhost",
			Port:            5432,
			Name:            "assay",
			User:            "assay",
			Password:        "assay",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "15m",
			ConnTimeout:     "5s",
		},
		Storage: storage.Config{
			ContainerName:    "audits",
			ConnectionString: azuriteConnString,
		},
		API: config.APIConfig{
			BasePath:       "/api",
			MaxUploadSize:  "25MB",
			MaxRequestSize: "100MB",
			AcceptedTypes:  []string{"application/pdf"},
			PollInterval:   "5s",
			Pagination: pagination.Config{
				DefaultPageSize: 20,
				MaxPageSize:     100,
			},
		},
		Extraction: extraction.Config{
			Engine:        extraction.EngineStub,
			Timeout:       "3m",
			Workers:       1,
			QueueSize:     1,
			StaleTimeout:  "0",
			SweepInterval: "1m",
			StubGrade:     "B",
		},
		Locks: locks.Config{
			Backend:       locks.BackendMemory,
			TTL:           "30s",
			RetryInterval: "50ms",
		},
		Auth: auth.Config{
			QueryParam: "access_token",
		},
		ShutdownTimeout: "30s",
		Version:         "0.1.0",
	}
}

func newModule(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { infra.Lifecycle.Shutdown(5 * time.Second) })

	m, err := api.NewModule(cfg, infra)
	require.NoError(t, err)
	assert.Equal(t, "/api", m.Prefix())
	return m
}

func TestNewModuleRejectsBadEngine(t *testing.T) {
	cfg := validConfig()
	cfg.Extraction.Engine = "magic"

	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { infra.Lifecycle.Shutdown(5 * time.Second) })

	_, err = api.NewModule(cfg, infra)
	assert.Error(t, err)
}

func TestRoutesResolveWithoutStorage(t *testing.T) {
	m := newModule(t, validConfig())

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"malformed audit id", "GET", "/api/suppliers/S1/audits/not-a-uuid", http.StatusNotFound},
		{"malformed reprocess id", "POST", "/api/suppliers/S1/audits/not-a-uuid/reprocess", http.StatusNotFound},
		{"malformed download id", "GET", "/api/suppliers/S1/audits/not-a-uuid/download", http.StatusNotFound},
		{"unknown route", "GET", "/api/nothing-here", http.StatusNotFound},
		{"wrong method", "DELETE", "/api/suppliers/S1/audits", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			m.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	m := newModule(t, validConfig())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("audit_type", "factory_audit"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="document"; filename="audit.docx"`)
	h.Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("PK\x03\x04"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/suppliers/S1/audits", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAuthRequiresCredential(t *testing.T) {
	cfg := validConfig()
	cfg.Auth = auth.Config{
		Enabled:    true,
		Issuer:     "https://login.example.com/tenant/v2.0",
		JWKSURL:    "https://login.example.com/tenant/discovery/v2.0/keys",
		QueryParam: "access_token",
	}
	m := newModule(t, cfg)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/api/suppliers/S1/audits/latest", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
