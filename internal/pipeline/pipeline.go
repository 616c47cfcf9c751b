// Package pipeline drives the extraction lifecycle of supplier audits: intake,
// the pending → processing → completed|failed state machine, reprocessing, and
// the stale in-flight sweep. Every transition of one audit is serialized by a
// keyed lock and applied inside a record transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/documents"
	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/pkg/lifecycle"
	"github.com/JaimeStill/assay/pkg/locks"
)

// TimedOutReason is the failure recorded when the sweep abandons a stuck audit.
const TimedOutReason = "extraction timed out"

// SubmitCommand is a document upload for a supplier.
type SubmitCommand struct {
	SupplierID string
	AuditType  string
	AuditDate  *time.Time
	Upload     documents.Upload
}

// System is the audit extraction state machine. It implements extraction.Callback
// so that runners report outcomes straight into it.
type System interface {
	extraction.Callback

	// Submit validates and stores a document, creates a pending audit, and hands it
	// to the extraction runner. Rejected submissions leave no state behind.
	Submit(ctx context.Context, cmd SubmitCommand) (*audits.Audit, error)

	// Reprocess resets a completed or failed audit to pending and re-runs extraction
	// on the same stored document.
	Reprocess(ctx context.Context, supplierID string, id uuid.UUID) (*audits.Audit, error)

	// Open returns the supplier's audit and a stream of its stored document.
	Open(ctx context.Context, supplierID string, id uuid.UUID) (*audits.Audit, io.ReadCloser, error)

	// Sweep fails in-flight audits that have not moved within the stale timeout and
	// returns how many it failed.
	Sweep(ctx context.Context) (int, error)

	// StartSweeper registers the periodic sweep with the lifecycle coordinator.
	StartSweeper(lc *lifecycle.Coordinator) error
}

// Options tunes the operational timeout policy.
type Options struct {
	// StaleTimeout is how long an audit may stay in flight without an update. Zero
	// disables the sweep.
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	// SweepConcurrency bounds concurrent transitions within one sweep.
	SweepConcurrency int
	Now              func() time.Time
}

type machine struct {
	store  audits.System
	docs   documents.System
	runner extraction.Runner
	locker locks.System
	logger *slog.Logger
	opts   Options
}

// New creates the pipeline over its collaborators.
func New(
	store audits.System,
	docs documents.System,
	runner extraction.Runner,
	locker locks.System,
	logger *slog.Logger,
	opts Options,
) System {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &machine{
		store:  store,
		docs:   docs,
		runner: runner,
		locker: locker,
		logger: logger.With("system", "pipeline"),
		opts:   opts,
	}
}

func (m *machine) Submit(ctx context.Context, cmd SubmitCommand) (*audits.Audit, error) {
	if err := audits.ValidateSupplierID(cmd.SupplierID); err != nil {
		return nil, err
	}
	auditType, err := audits.ParseAuditType(cmd.AuditType)
	if err != nil {
		return nil, err
	}
	if err := m.docs.Validate(cmd.Upload); err != nil {
		return nil, err
	}

	id := uuid.New()
	stored, err := m.docs.Store(ctx, cmd.SupplierID, id, cmd.Upload)
	if err != nil {
		return nil, err
	}

	created, err := m.store.Create(ctx, &audits.Audit{
		ID:          id,
		SupplierID:  cmd.SupplierID,
		AuditType:   auditType,
		DocumentRef: stored.Ref,
		Filename:    cmd.Upload.Filename,
		ContentType: documents.NormalizeMediaType(cmd.Upload.ContentType, cmd.Upload.Data),
		SizeBytes:   cmd.Upload.Size,
		PageCount:   stored.PageCount,
		Status:      audits.StatusPending,
		Attempt:     1,
		AuditDate:   cmd.AuditDate,
	})
	if err != nil {
		if rerr := m.docs.Remove(context.WithoutCancel(ctx), stored.Ref); rerr != nil {
			m.logger.Warn("document compensation failed", "audit_id", id, "ref", stored.Ref, "error", rerr)
		}
		return nil, fmt.Errorf("create audit: %w", err)
	}

	m.logger.Info("audit submitted",
		"audit_id", created.ID,
		"supplier_id", created.SupplierID,
		"audit_type", created.AuditType,
		"size", created.SizeBytes,
	)
	return m.dispatch(ctx, created), nil
}

func (m *machine) Start(ctx context.Context, id uuid.UUID, attempt int) error {
	_, err := m.transition(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if a.Attempt != attempt {
			return audits.Journal{}, staleAttempt(a, attempt)
		}
		switch a.Status {
		case audits.StatusProcessing:
			return audits.Journal{}, audits.ErrNoChange
		case audits.StatusPending:
			a.Status = audits.StatusProcessing
			return audits.Journal{}, nil
		}
		return audits.Journal{}, invalidTransition(a, audits.StatusProcessing)
	})
	return err
}

func (m *machine) Complete(ctx context.Context, id uuid.UUID, attempt int, result *extraction.Result) error {
	if result == nil {
		return m.Fail(ctx, id, attempt, "extraction returned no result")
	}
	if _, err := audits.ParseGrade(string(result.Classification)); err != nil {
		return m.Fail(ctx, id, attempt, err.Error())
	}

	_, err := m.transition(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if a.Attempt != attempt {
			return audits.Journal{}, staleAttempt(a, attempt)
		}
		if a.Status != audits.StatusProcessing {
			return audits.Journal{}, invalidTransition(a, audits.StatusCompleted)
		}

		grade := result.Classification
		reason := result.Reason

		a.Status = audits.StatusCompleted
		a.ExtractionError = nil
		a.Extraction = result.Extraction
		a.AIClassification = &grade
		a.AIClassificationReason = &reason
		if result.AuditDate != nil {
			a.AuditDate = result.AuditDate
		}
		return audits.Journal{Attempt: audits.Snapshot(a)}, nil
	})
	return err
}

func (m *machine) Fail(ctx context.Context, id uuid.UUID, attempt int, reason string) error {
	_, err := m.transition(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if a.Attempt != attempt {
			return audits.Journal{}, staleAttempt(a, attempt)
		}
		if !a.InFlight() {
			return audits.Journal{}, invalidTransition(a, audits.StatusFailed)
		}
		markFailed(a, reason)
		return audits.Journal{Attempt: audits.Snapshot(a)}, nil
	})
	return err
}

func (m *machine) Reprocess(ctx context.Context, supplierID string, id uuid.UUID) (*audits.Audit, error) {
	if _, err := audits.FindOwned(ctx, m.store, supplierID, id); err != nil {
		return nil, err
	}

	updated, err := m.transition(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if a.Status != audits.StatusCompleted && a.Status != audits.StatusFailed {
			return audits.Journal{}, invalidTransition(a, audits.StatusPending)
		}
		a.Status = audits.StatusPending
		a.Attempt++
		a.ExtractionError = nil
		a.ClearResults()
		return audits.Journal{}, nil
	})
	if err != nil {
		return nil, err
	}

	return m.dispatch(ctx, updated), nil
}

func (m *machine) Open(ctx context.Context, supplierID string, id uuid.UUID) (*audits.Audit, io.ReadCloser, error) {
	a, err := audits.FindOwned(ctx, m.store, supplierID, id)
	if err != nil {
		return nil, nil, err
	}

	body, err := m.docs.Open(ctx, a.DocumentRef)
	if err != nil {
		return nil, nil, err
	}
	return a, body, nil
}

// dispatch hands a pending audit to the runner outside any lock. A runner that
// refuses the request fails the attempt so the audit never stays pending.
func (m *machine) dispatch(ctx context.Context, a *audits.Audit) *audits.Audit {
	req := extraction.Request{
		AuditID:     a.ID,
		Attempt:     a.Attempt,
		DocumentRef: a.DocumentRef,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		AuditType:   a.AuditType,
	}

	err := m.runner.Run(ctx, req, m)
	if err == nil {
		return a
	}

	m.logger.Warn("extraction dispatch failed", "audit_id", a.ID, "attempt", a.Attempt, "error", err)
	reason := fmt.Sprintf("dispatch extraction: %v", err)
	if ferr := m.Fail(context.WithoutCancel(ctx), a.ID, a.Attempt, reason); ferr != nil {
		m.logger.Error("record dispatch failure", "audit_id", a.ID, "error", ferr)
		return a
	}

	if current, ferr := m.store.Find(context.WithoutCancel(ctx), a.ID); ferr == nil {
		return current
	}
	return a
}

// transition runs fn on the locked record and logs status changes.
func (m *machine) transition(ctx context.Context, id uuid.UUID, fn audits.MutateFunc) (*audits.Audit, error) {
	unlock, err := m.locker.Lock(ctx, audits.LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock audit %s: %w", id, err)
	}
	defer unlock()

	var from audits.Status
	var changed bool
	updated, err := m.store.Mutate(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		from = a.Status
		j, err := fn(a)
		changed = err == nil
		return j, err
	})
	if err != nil {
		if errors.Is(err, ErrStaleAttempt) || errors.Is(err, ErrInvalidTransition) {
			m.logger.Warn("transition rejected", "audit_id", id, "from", from, "error", err)
		}
		return nil, err
	}

	if changed {
		logger := m.logger.With("audit_id", id, "from", from, "to", updated.Status, "attempt", updated.Attempt)
		if updated.Status == audits.StatusFailed && updated.ExtractionError != nil {
			logger.Warn("audit transitioned", "error", *updated.ExtractionError)
		} else {
			logger.Info("audit transitioned")
		}
	}
	return updated, nil
}

func markFailed(a *audits.Audit, reason string) {
	a.Status = audits.StatusFailed
	a.Extraction = audits.Extraction{}
	a.AIClassification = nil
	a.AIClassificationReason = nil
	a.ExtractionError = &reason
}

func staleAttempt(a *audits.Audit, attempt int) error {
	return fmt.Errorf("%w: audit %s is on attempt %d, callback for %d", ErrStaleAttempt, a.ID, a.Attempt, attempt)
}

func invalidTransition(a *audits.Audit, to audits.Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
}
