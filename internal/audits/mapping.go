package audits

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/JaimeStill/assay/pkg/query"
	"github.com/JaimeStill/assay/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "audits", "a").
	Project("id", "id").
	Project("supplier_id", "supplier_id").
	Project("audit_type", "audit_type").
	Project("document_ref", "document_ref").
	Project("filename", "filename").
	Project("content_type", "content_type").
	Project("size_bytes", "size_bytes").
	Project("page_count", "page_count").
	Project("extraction_status", "extraction_status").
	Project("attempt", "attempt").
	Project("extraction_error", "extraction_error").
	Project("audit_date", "audit_date").
	Project("supplier_type", "supplier_type").
	Project("employee_count", "employee_count").
	Project("factory_area_sqm", "factory_area_sqm").
	Project("production_lines_count", "production_lines_count").
	Project("certifications", "certifications").
	Project("markets_served", "markets_served").
	Project("positive_points", "positive_points").
	Project("negative_points", "negative_points").
	Project("ai_classification", "ai_classification").
	Project("ai_classification_reason", "ai_classification_reason").
	Project("manual_classification", "manual_classification").
	Project("classification_notes", "classification_notes").
	Project("created_at", "created_at").
	Project("updated_at", "updated_at").
	Expr("COALESCE(a.manual_classification, a.ai_classification)", "effective_classification")

var historyOrder = []query.SortField{
	{Field: "created_at", Descending: true},
	{Field: "id", Descending: true},
}

// Filters narrows operator search. Nil fields are ignored.
type Filters struct {
	SupplierID    *string    `json:"supplier_id,omitempty"`
	Status        *Status    `json:"extraction_status,omitempty"`
	AuditType     *AuditType `json:"audit_type,omitempty"`
	Grade         *Grade     `json:"effective_classification,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`
}

// Validate checks enumerated filter values.
func (f Filters) Validate() error {
	if f.Status != nil {
		if _, err := ParseStatus(string(*f.Status)); err != nil {
			return err
		}
	}
	if f.AuditType != nil {
		if _, err := ParseAuditType(string(*f.AuditType)); err != nil {
			return err
		}
	}
	if f.Grade != nil {
		if _, err := ParseGrade(string(*f.Grade)); err != nil {
			return err
		}
	}
	return nil
}

// Apply adds the filter conditions to b.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("supplier_id", f.SupplierID).
		WhereEquals("extraction_status", f.Status).
		WhereEquals("audit_type", f.AuditType).
		WhereEquals("effective_classification", f.Grade).
		WhereBefore("updated_at", f.UpdatedBefore)
}

// FiltersFromQuery reads filters from URL query parameters.
func FiltersFromQuery(values url.Values) (Filters, error) {
	var f Filters

	if v := values.Get("supplier_id"); v != "" {
		f.SupplierID = &v
	}
	if v := values.Get("extraction_status"); v != "" {
		s := Status(v)
		f.Status = &s
	}
	if v := values.Get("audit_type"); v != "" {
		t := AuditType(v)
		f.AuditType = &t
	}
	if v := values.Get("effective_classification"); v != "" {
		g := Grade(v)
		f.Grade = &g
	}
	if v := values.Get("updated_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid updated_before: %w", err)
		}
		f.UpdatedBefore = &ts
	}

	return f, f.Validate()
}

// jsonb adapts a Go value to a JSONB column. A nil value stores SQL NULL.
type jsonb[T any] struct {
	v *T
}

func (j jsonb[T]) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	data, err := json.Marshal(*j.v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (j jsonb[T]) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported source %T", src)
	}
	return json.Unmarshal(data, j.v)
}

func jsonList(v *[]string) jsonb[[]string] {
	return jsonb[[]string]{v: v}
}

func jsonMap(v *map[string]float64) jsonb[map[string]float64] {
	return jsonb[map[string]float64]{v: v}
}

func listArg(v []string) any {
	if v == nil {
		return nil
	}
	return jsonList(&v)
}

func mapArg(v map[string]float64) any {
	if v == nil {
		return nil
	}
	return jsonMap(&v)
}

func scanAudit(s repository.Scanner) (Audit, error) {
	var a Audit
	err := s.Scan(
		&a.ID,
		&a.SupplierID,
		&a.AuditType,
		&a.DocumentRef,
		&a.Filename,
		&a.ContentType,
		&a.SizeBytes,
		&a.PageCount,
		&a.Status,
		&a.Attempt,
		&a.ExtractionError,
		&a.AuditDate,
		&a.SupplierType,
		&a.EmployeeCount,
		&a.FactoryAreaSqm,
		&a.ProductionLinesCount,
		jsonList(&a.Certifications),
		jsonMap(&a.MarketsServed),
		jsonList(&a.PositivePoints),
		jsonList(&a.NegativePoints),
		&a.AIClassification,
		&a.AIClassificationReason,
		&a.ManualClassification,
		&a.ClassificationNotes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

const overrideColumns = "id, audit_id, actor, old_effective_grade, new_grade, notes, created_at"

func scanOverride(s repository.Scanner) (OverrideEntry, error) {
	var o OverrideEntry
	err := s.Scan(&o.ID, &o.AuditID, &o.Actor, &o.OldEffectiveGrade, &o.NewGrade, &o.Notes, &o.CreatedAt)
	return o, err
}

const attemptColumns = `id, audit_id, attempt, status, supplier_type, employee_count, factory_area_sqm,
	production_lines_count, certifications, markets_served, positive_points, negative_points,
	ai_classification, ai_classification_reason, error, finished_at`

func scanAttempt(s repository.Scanner) (Attempt, error) {
	var at Attempt
	err := s.Scan(
		&at.ID,
		&at.AuditID,
		&at.Attempt,
		&at.Status,
		&at.SupplierType,
		&at.EmployeeCount,
		&at.FactoryAreaSqm,
		&at.ProductionLinesCount,
		jsonList(&at.Certifications),
		jsonMap(&at.MarketsServed),
		jsonList(&at.PositivePoints),
		jsonList(&at.NegativePoints),
		&at.AIClassification,
		&at.AIClassificationReason,
		&at.Error,
		&at.FinishedAt,
	)
	return at, err
}
