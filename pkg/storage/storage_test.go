package storage_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JaimeStill/assay/pkg/storage"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{"", storage.ErrEmptyKey},
		{"audits/../secret", storage.ErrInvalidKey},
		{"audits/./secret", storage.ErrInvalidKey},
		{"/audits/s1", storage.ErrInvalidKey},
		{`audits\s1`, storage.ErrInvalidKey},
		{"audits//s1", storage.ErrInvalidKey},
		{strings.Repeat("a", storage.MaxKeyLength+1), storage.ErrInvalidKey},
		{"audits/s1/a1/report.pdf", nil},
		{"audits/s1/a1/v1..final.pdf", nil},
	}
	for _, tt := range tests {
		err := storage.ValidateKey(tt.key)
		if tt.want == nil {
			assert.NoError(t, err, tt.key)
			continue
		}
		assert.ErrorIs(t, err, tt.want, tt.key)
	}
}

func TestConfigFinalize(t *testing.T) {
	t.Run("requires a credential source", func(t *testing.T) {
		cfg := &storage.Config{}
		assert.Error(t, cfg.Finalize(nil))
	})

	t.Run("service url is sufficient", func(t *testing.T) {
		cfg := &storage.Config{ServiceURL: "https://acct.blob.core.windows.net/"}
		assert.NoError(t, cfg.Finalize(nil))
		assert.Equal(t, "audits", cfg.ContainerName)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("TEST_STORAGE_CONTAINER", "docs")
		t.Setenv("TEST_STORAGE_CONN", "UseDevelopmentStorage=true")

		cfg := &storage.Config{}
		err := cfg.Finalize(&storage.Env{
			ContainerName:    "TEST_STORAGE_CONTAINER",
			ConnectionString: "TEST_STORAGE_CONN",
		})
		assert.NoError(t, err)
		assert.Equal(t, "docs", cfg.ContainerName)
		assert.Equal(t, "UseDevelopmentStorage=true", cfg.ConnectionString)
	})
}
