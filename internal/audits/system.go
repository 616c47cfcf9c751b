package audits

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/pkg/pagination"
)

// MaxSupplierIDLength bounds supplier identifiers issued by the owning system.
const MaxSupplierIDLength = 128

// MutateFunc edits a locked record in place and returns the history rows to append.
// Returning an error rolls the transaction back and leaves the record unchanged.
type MutateFunc func(a *Audit) (Journal, error)

// System is the audit record store.
type System interface {
	// Create inserts a new record. ID, CreatedAt and UpdatedAt are assigned by the store
	// when zero.
	Create(ctx context.Context, a *Audit) (*Audit, error)

	// Find returns the audit with id or ErrNotFound.
	Find(ctx context.Context, id uuid.UUID) (*Audit, error)

	// List returns every audit for supplierID, newest first by created_at with id as
	// tiebreak. Position 0 is the supplier's latest audit.
	List(ctx context.Context, supplierID string) ([]Audit, error)

	// Search pages through audits across suppliers.
	Search(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Audit], error)

	// Mutate locks the record with id, applies fn, and persists the result together
	// with any journal rows in a single transaction.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Audit, error)

	// Overrides returns the override trail for id, oldest first.
	Overrides(ctx context.Context, id uuid.UUID) ([]OverrideEntry, error)

	// Attempts returns the terminal attempt history for id, oldest first.
	Attempts(ctx context.Context, id uuid.UUID) ([]Attempt, error)

	// Stale returns in-flight audits last updated before cutoff, oldest first.
	Stale(ctx context.Context, cutoff time.Time) ([]Audit, error)
}

// ValidateSupplierID rejects empty or oversized supplier identifiers.
func ValidateSupplierID(id string) error {
	if id == "" || utf8.RuneCountInString(id) > MaxSupplierIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidSupplier, id)
	}
	return nil
}

// Owned returns a when it belongs to supplierID and ErrNotFound otherwise, so one
// supplier's path never exposes another supplier's audit.
func Owned(a *Audit, supplierID string) (*Audit, error) {
	if a.SupplierID != supplierID {
		return nil, ErrNotFound
	}
	return a, nil
}

// FindOwned finds id and checks that it belongs to supplierID.
func FindOwned(ctx context.Context, sys System, supplierID string, id uuid.UUID) (*Audit, error) {
	a, err := sys.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return Owned(a, supplierID)
}

// Latest returns position 0 of the supplier's history or ErrNotFound when empty.
func Latest(ctx context.Context, sys System, supplierID string) (*Audit, error) {
	list, err := sys.List(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// LockKey is the key under which every mutation of audit id is serialized.
func LockKey(id uuid.UUID) string {
	return "audit:" + id.String()
}
