package audits

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/pkg/pagination"
)

// Memory is an in-process System for tests and local runs without PostgreSQL.
// Records are copied on every read and write.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	page      pagination.Config
	audits    map[uuid.UUID]Audit
	overrides map[uuid.UUID][]OverrideEntry
	attempts  map[uuid.UUID][]Attempt
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces time.Now for created_at/updated_at stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:       time.Now,
		page:      pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
		audits:    make(map[uuid.UUID]Audit),
		overrides: make(map[uuid.UUID][]OverrideEntry),
		attempts:  make(map[uuid.UUID][]Attempt),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Create(_ context.Context, a *Audit) (*Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := clone(*a)
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := m.audits[rec.ID]; exists {
		return nil, ErrDuplicate
	}
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	m.audits[rec.ID] = rec
	out := clone(rec)
	return &out, nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.audits[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(a)
	return &out, nil
}

func (m *Memory) List(_ context.Context, supplierID string) ([]Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]Audit, 0)
	for _, a := range m.audits {
		if a.SupplierID == supplierID {
			list = append(list, clone(a))
		}
	}
	sortHistory(list)
	return list, nil
}

func (m *Memory) Search(_ context.Context, page pagination.PageRequest, f Filters) (*pagination.PageResult[Audit], error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	page.Normalize(m.page)

	m.mu.Lock()
	matched := make([]Audit, 0)
	for _, a := range m.audits {
		if f.matches(&a) && searchMatches(&a, page.Search) {
			matched = append(matched, clone(a))
		}
	}
	m.mu.Unlock()

	sortHistory(matched)
	start := min(page.Offset(), len(matched))
	end := min(start+page.PageSize, len(matched))

	result := pagination.NewPageResult(matched[start:end], len(matched), page.Page, page.PageSize)
	return &result, nil
}

func (m *Memory) Mutate(_ context.Context, id uuid.UUID, fn MutateFunc) (*Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.audits[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := clone(current)
	journal, err := fn(&next)
	if errors.Is(err, ErrNoChange) {
		out := clone(current)
		return &out, nil
	}
	if err != nil {
		return nil, err
	}

	now := m.now()
	next.ID, next.SupplierID, next.CreatedAt = current.ID, current.SupplierID, current.CreatedAt
	next.UpdatedAt = now
	m.audits[id] = next

	if o := journal.Override; o != nil {
		entry := *o
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.CreatedAt = now
		m.overrides[id] = append(m.overrides[id], entry)
	}
	if at := journal.Attempt; at != nil {
		entry := *at
		entry.Extraction = cloneExtraction(at.Extraction)
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.FinishedAt.IsZero() {
			entry.FinishedAt = now
		}
		m.attempts[id] = append(m.attempts[id], entry)
	}

	out := clone(next)
	return &out, nil
}

func (m *Memory) Overrides(_ context.Context, id uuid.UUID) ([]OverrideEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OverrideEntry{}, m.overrides[id]...), nil
}

func (m *Memory) Attempts(_ context.Context, id uuid.UUID) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt{}, m.attempts[id]...), nil
}

func (m *Memory) Stale(_ context.Context, cutoff time.Time) ([]Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]Audit, 0)
	for _, a := range m.audits {
		if a.InFlight() && a.UpdatedAt.Before(cutoff) {
			list = append(list, clone(a))
		}
	}
	slices.SortFunc(list, func(x, y Audit) int { return x.UpdatedAt.Compare(y.UpdatedAt) })
	return list, nil
}

func (f Filters) matches(a *Audit) bool {
	switch {
	case f.SupplierID != nil && a.SupplierID != *f.SupplierID:
		return false
	case f.Status != nil && a.Status != *f.Status:
		return false
	case f.AuditType != nil && a.AuditType != *f.AuditType:
		return false
	case f.UpdatedBefore != nil && !a.UpdatedAt.Before(*f.UpdatedBefore):
		return false
	case f.Grade != nil:
		g := a.EffectiveGrade()
		return g != nil && *g == *f.Grade
	}
	return true
}

func searchMatches(a *Audit, search *string) bool {
	if search == nil || *search == "" {
		return true
	}
	s := strings.ToLower(*search)
	return strings.Contains(strings.ToLower(a.Filename), s) ||
		strings.Contains(strings.ToLower(a.SupplierID), s)
}

func sortHistory(list []Audit) {
	slices.SortFunc(list, func(x, y Audit) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(y.ID[:], x.ID[:])
	})
}

func clone(a Audit) Audit {
	a.Extraction = cloneExtraction(a.Extraction)
	return a
}

func cloneExtraction(e Extraction) Extraction {
	e.Certifications = slices.Clone(e.Certifications)
	e.PositivePoints = slices.Clone(e.PositivePoints)
	e.NegativePoints = slices.Clone(e.NegativePoints)
	e.MarketsServed = maps.Clone(e.MarketsServed)
	return e
}
