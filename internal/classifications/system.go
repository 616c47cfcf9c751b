package classifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/pkg/locks"
)

// System applies manual classifications and exposes their trail.
type System interface {
	// Override replaces the manual grade and notes of a completed audit and appends
	// a trail entry. Re-overriding replaces the grade and appends again.
	Override(ctx context.Context, id uuid.UUID, o *Override) (*audits.Audit, error)

	// Trail returns the override trail of the supplier's audit, oldest first.
	Trail(ctx context.Context, supplierID string, id uuid.UUID) ([]audits.OverrideEntry, error)
}

type resolver struct {
	store  audits.System
	locker locks.System
	logger *slog.Logger
}

// New creates the classification resolver.
func New(store audits.System, locker locks.System, logger *slog.Logger) System {
	return &resolver{
		store:  store,
		locker: locker,
		logger: logger.With("system", "classifications"),
	}
}

func (r *resolver) Override(ctx context.Context, id uuid.UUID, o *Override) (*audits.Audit, error) {
	unlock, err := r.locker.Lock(ctx, audits.LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock audit %s: %w", id, err)
	}
	defer unlock()

	var previous *audits.Grade
	updated, err := r.store.Mutate(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if a.SupplierID != o.SupplierID {
			return audits.Journal{}, audits.ErrNotFound
		}
		if a.Status != audits.StatusCompleted {
			return audits.Journal{}, fmt.Errorf("%w: status %s", ErrInvalidState, a.Status)
		}

		previous = a.EffectiveGrade()
		grade, notes := o.Grade, o.Notes
		a.ManualClassification = &grade
		a.ClassificationNotes = &notes

		return audits.Journal{Override: &audits.OverrideEntry{
			AuditID:           a.ID,
			Actor:             o.Actor,
			OldEffectiveGrade: previous,
			NewGrade:          grade,
			Notes:             notes,
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("classification overridden",
		"audit_id", id,
		"actor", o.Actor,
		"old_grade", gradeValue(previous),
		"new_grade", o.Grade,
	)
	return updated, nil
}

func (r *resolver) Trail(ctx context.Context, supplierID string, id uuid.UUID) ([]audits.OverrideEntry, error) {
	if _, err := audits.FindOwned(ctx, r.store, supplierID, id); err != nil {
		return nil, err
	}
	return r.store.Overrides(ctx, id)
}

func gradeValue(g *audits.Grade) string {
	if g == nil {
		return ""
	}
	return string(*g)
}
