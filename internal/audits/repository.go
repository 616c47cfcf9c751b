package audits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/pkg/pagination"
	"github.com/JaimeStill/assay/pkg/query"
	"github.com/JaimeStill/assay/pkg/repository"
)

var domainErrors = repository.Errors{
	NotFound:  ErrNotFound,
	Duplicate: ErrDuplicate,
	Invalid:   ErrInvalidRecord,
}

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "audits"),
		pagination: pagination,
	}
}

func (r *repo) Create(ctx context.Context, a *Audit) (*Audit, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	q := fmt.Sprintf(`
		INSERT INTO public.audits AS a (id, supplier_id, audit_type, document_ref, filename, content_type,
			size_bytes, page_count, extraction_status, attempt, audit_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s`, projection.Columns())

	args := []any{
		a.ID, a.SupplierID, a.AuditType, a.DocumentRef, a.Filename, a.ContentType,
		a.SizeBytes, a.PageCount, a.Status, a.Attempt, a.AuditDate,
	}

	created, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Audit, error) {
		return repository.QueryOne(ctx, tx, q, args, scanAudit)
	})
	if err != nil {
		return nil, repository.MapError(err, domainErrors)
	}

	r.logger.Info("audit created", "audit_id", created.ID, "supplier_id", created.SupplierID)
	return &created, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Audit, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE a.id = $1", projection.Columns(), projection.From())

	a, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanAudit)
	if err != nil {
		return nil, repository.MapError(err, domainErrors)
	}
	return &a, nil
}

func (r *repo) List(ctx context.Context, supplierID string) ([]Audit, error) {
	q, args := query.
		NewBuilder(projection, historyOrder...).
		WhereEquals("supplier_id", supplierID).
		Build()

	list, err := repository.QueryMany(ctx, r.db, q, args, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("query supplier audits: %w", err)
	}
	return list, nil
}

func (r *repo) Search(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Audit], error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, historyOrder...).
		WhereSearch(page.Search, "filename", "supplier_id").
		OrderBy(page.Sort)
	filters.Apply(qb)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audits: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	list, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}

	result := pagination.NewPageResult(list, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Audit, error) {
	lockSQL := fmt.Sprintf("SELECT %s FROM %s WHERE a.id = $1 FOR UPDATE", projection.Columns(), projection.From())

	updateSQL := fmt.Sprintf(`
		UPDATE public.audits AS a SET
			extraction_status = $2,
			attempt = $3,
			extraction_error = $4,
			audit_date = $5,
			supplier_type = $6,
			employee_count = $7,
			factory_area_sqm = $8,
			production_lines_count = $9,
			certifications = $10,
			markets_served = $11,
			positive_points = $12,
			negative_points = $13,
			ai_classification = $14,
			ai_classification_reason = $15,
			manual_classification = $16,
			classification_notes = $17,
			updated_at = now()
		WHERE a.id = $1
		RETURNING %s`, projection.Columns())

	var unchanged bool
	updated, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Audit, error) {
		current, err := repository.QueryOne(ctx, tx, lockSQL, []any{id}, scanAudit)
		if err != nil {
			return Audit{}, err
		}

		next := current
		journal, err := fn(&next)
		if errors.Is(err, ErrNoChange) {
			unchanged = true
			return current, nil
		}
		if err != nil {
			return Audit{}, err
		}

		args := []any{
			id, next.Status, next.Attempt, next.ExtractionError, next.AuditDate,
			next.SupplierType, next.EmployeeCount, next.FactoryAreaSqm, next.ProductionLinesCount,
			listArg(next.Certifications), mapArg(next.MarketsServed),
			listArg(next.PositivePoints), listArg(next.NegativePoints),
			next.AIClassification, next.AIClassificationReason,
			next.ManualClassification, next.ClassificationNotes,
		}
		saved, err := repository.QueryOne(ctx, tx, updateSQL, args, scanAudit)
		if err != nil {
			return Audit{}, err
		}

		if err := appendJournal(ctx, tx, journal, saved.UpdatedAt); err != nil {
			return Audit{}, err
		}
		return saved, nil
	})
	if err != nil {
		return nil, repository.MapError(err, domainErrors)
	}

	if !unchanged {
		r.logger.Debug("audit updated", "audit_id", id, "status", updated.Status, "attempt", updated.Attempt)
	}
	return &updated, nil
}

func appendJournal(ctx context.Context, tx *sql.Tx, j Journal, stamp time.Time) error {
	if o := j.Override; o != nil {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.CreatedAt = stamp
		if err := repository.ExecExpectOne(ctx, tx,
			"INSERT INTO public.audit_overrides ("+overrideColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
			o.ID, o.AuditID, o.Actor, o.OldEffectiveGrade, o.NewGrade, o.Notes, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("append override: %w", err)
		}
	}

	if at := j.Attempt; at != nil {
		if at.ID == uuid.Nil {
			at.ID = uuid.New()
		}
		if at.FinishedAt.IsZero() {
			at.FinishedAt = stamp
		}
		if err := repository.ExecExpectOne(ctx, tx,
			"INSERT INTO public.audit_attempts ("+attemptColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			at.ID, at.AuditID, at.Attempt, at.Status,
			at.SupplierType, at.EmployeeCount, at.FactoryAreaSqm, at.ProductionLinesCount,
			listArg(at.Certifications), mapArg(at.MarketsServed),
			listArg(at.PositivePoints), listArg(at.NegativePoints),
			at.AIClassification, at.AIClassificationReason, at.Error, at.FinishedAt,
		); err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}
	}
	return nil
}

func (r *repo) Overrides(ctx context.Context, id uuid.UUID) ([]OverrideEntry, error) {
	q := "SELECT " + overrideColumns + " FROM public.audit_overrides WHERE audit_id = $1 ORDER BY created_at, id"
	return repository.QueryMany(ctx, r.db, q, []any{id}, scanOverride)
}

func (r *repo) Attempts(ctx context.Context, id uuid.UUID) ([]Attempt, error) {
	q := "SELECT " + attemptColumns + " FROM public.audit_attempts WHERE audit_id = $1 ORDER BY attempt, finished_at"
	return repository.QueryMany(ctx, r.db, q, []any{id}, scanAttempt)
}

func (r *repo) Stale(ctx context.Context, cutoff time.Time) ([]Audit, error) {
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "updated_at"}).
		WhereIn("extraction_status", []any{StatusPending, StatusProcessing}).
		WhereBefore("updated_at", cutoff).
		Build()

	list, err := repository.QueryMany(ctx, r.db, q, args, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("query stale audits: %w", err)
	}
	return list, nil
}
