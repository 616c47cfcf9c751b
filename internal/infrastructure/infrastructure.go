// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, locks, token
// verification) that domain systems require.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/assay/internal/config"
	"github.com/JaimeStill/assay/pkg/auth"
	"github.com/JaimeStill/assay/pkg/database"
	"github.com/JaimeStill/assay/pkg/lifecycle"
	"github.com/JaimeStill/assay/pkg/locks"
	"github.com/JaimeStill/assay/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
// Verifier is nil when authentication is disabled.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Locks     locks.System
	Verifier  auth.Verifier
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	locker, err := locks.New(&cfg.Locks, logger)
	if err != nil {
		return nil, fmt.Errorf("locks init failed: %w", err)
	}

	var verifier auth.Verifier
	if cfg.Auth.Enabled {
		verifier = auth.NewOIDC(lc.Context(), &cfg.Auth)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Locks:     locker,
		Verifier:  verifier,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if err := i.Locks.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("locks start failed: %w", err)
	}
	return nil
}
