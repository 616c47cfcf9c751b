package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/pkg/auth"
)

type fakeVerifier struct {
	valid string
	seen  []string
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*auth.Identity, error) {
	f.seen = append(f.seen, raw)
	if raw != f.valid {
		return nil, errors.New("bad token")
	}
	return &auth.Identity{Subject: "user-1", Name: "Dana Reviewer"}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captured struct {
	uri   string
	actor string
}

func echo(c *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.uri = r.URL.RequestURI()
		if id, ok := auth.FromContext(r.Context()); ok {
			c.actor = id.Actor()
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("header credential", func(t *testing.T) {
		v := &fakeVerifier{valid: "good"}
		var c captured
		h := auth.Middleware(v, "access_token", discard())(echo(&c))

		req := httptest.NewRequest("GET", "/suppliers/s/audits", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Dana Reviewer", c.actor)
	})

	t.Run("query credential is stripped", func(t *testing.T) {
		v := &fakeVerifier{valid: "good"}
		var c captured
		h := auth.Middleware(v, "access_token", discard())(echo(&c))

		req := httptest.NewRequest("GET", "/suppliers/s/audits/a/download?access_token=good&inline=1", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/suppliers/s/audits/a/download?inline=1", c.uri)
		assert.NotContains(t, c.uri, "good")
	})

	t.Run("missing credential", func(t *testing.T) {
		v := &fakeVerifier{valid: "good"}
		var c captured
		h := auth.Middleware(v, "access_token", discard())(echo(&c))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/suppliers/s/audits", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, v.seen)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, auth.ErrUnauthorized.Error(), body["error"])
	})

	t.Run("invalid credential", func(t *testing.T) {
		v := &fakeVerifier{valid: "good"}
		var c captured
		h := auth.Middleware(v, "access_token", discard())(echo(&c))

		req := httptest.NewRequest("GET", "/x?access_token=bad", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "bad")
	})

	t.Run("disabled still strips", func(t *testing.T) {
		var c captured
		h := auth.Middleware(nil, "access_token", discard())(echo(&c))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/x?access_token=secret", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/x", c.uri)
		assert.Empty(t, c.actor)
	})
}

func TestIdentityActor(t *testing.T) {
	assert.Equal(t, "Name", auth.Identity{Subject: "s", Name: "Name", Email: "e@x"}.Actor())
	assert.Equal(t, "e@x", auth.Identity{Subject: "s", Email: "e@x"}.Actor())
	assert.Equal(t, "s", auth.Identity{Subject: "s"}.Actor())
}

func TestConfigFinalize(t *testing.T) {
	cfg := &auth.Config{}
	require.NoError(t, cfg.Finalize(nil))
	assert.Equal(t, "access_token", cfg.QueryParam)

	enabled := &auth.Config{Enabled: true, Issuer: "https://idp.example.com"}
	assert.Error(t, enabled.Finalize(nil))

	enabled.JWKSURL = "https://idp.example.com/keys"
	assert.NoError(t, enabled.Finalize(nil))
}
