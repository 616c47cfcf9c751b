// Package audits is the durable record of supplier audits: the audit entity, its
// override trail and extraction attempt history, newest-first supplier history,
// the in-flight polling read model, operator search, and the XLSX history export.
package audits

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the extraction lifecycle position of an audit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// InFlight reports whether extraction has been requested but has not reached a
// terminal state.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// AuditType is the kind of document an audit was raised from.
type AuditType string

const (
	FactoryAudit        AuditType = "factory_audit"
	ContainerInspection AuditType = "container_inspection"
)

// ParseAuditType validates s as an AuditType.
func ParseAuditType(s string) (AuditType, error) {
	switch t := AuditType(s); t {
	case FactoryAudit, ContainerInspection:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAuditType, s)
}

// Grade is a supplier quality rating.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// ParseGrade validates s as a Grade.
func ParseGrade(s string) (Grade, error) {
	switch g := Grade(s); g {
	case GradeA, GradeB, GradeC:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGrade, s)
}

// EffectiveGrade is the grade in force: the manual grade when present, otherwise
// the automated one. Nil means the audit is still ungraded.
func EffectiveGrade(manual, ai *Grade) *Grade {
	if manual != nil {
		return manual
	}
	return ai
}

// Extraction holds the structured fields produced by a completed extraction.
// Every field is nil unless the owning audit is completed.
type Extraction struct {
	SupplierType         *string            `json:"supplier_type"`
	EmployeeCount        *int               `json:"employee_count"`
	FactoryAreaSqm       *float64           `json:"factory_area_sqm"`
	ProductionLinesCount *int               `json:"production_lines_count"`
	Certifications       []string           `json:"certifications"`
	MarketsServed        map[string]float64 `json:"markets_served"`
	PositivePoints       []string           `json:"positive_points"`
	NegativePoints       []string           `json:"negative_points"`
}

// Empty reports whether no extracted field is set.
func (e Extraction) Empty() bool {
	return e.SupplierType == nil &&
		e.EmployeeCount == nil &&
		e.FactoryAreaSqm == nil &&
		e.ProductionLinesCount == nil &&
		e.Certifications == nil &&
		e.MarketsServed == nil &&
		e.PositivePoints == nil &&
		e.NegativePoints == nil
}

// MarketShare returns the percentage recorded for region, 0 when absent.
func (e Extraction) MarketShare(region string) float64 {
	return e.MarketsServed[region]
}

// Audit is one uploaded supplier document and everything derived from it.
type Audit struct {
	ID          uuid.UUID `json:"id"`
	SupplierID  string    `json:"supplier_id"`
	AuditType   AuditType `json:"audit_type"`
	DocumentRef string    `json:"document_ref"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	PageCount   *int      `json:"page_count"`

	Status          Status     `json:"extraction_status"`
	Attempt         int        `json:"attempt"`
	ExtractionError *string    `json:"extraction_error"`
	AuditDate       *time.Time `json:"audit_date"`

	Extraction

	AIClassification       *Grade  `json:"ai_classification"`
	AIClassificationReason *string `json:"ai_classification_reason"`
	ManualClassification   *Grade  `json:"manual_classification"`
	ClassificationNotes    *string `json:"classification_notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveGrade applies the override precedence rule to a.
func (a *Audit) EffectiveGrade() *Grade {
	return EffectiveGrade(a.ManualClassification, a.AIClassification)
}

// InFlight reports whether the audit awaits a terminal extraction outcome.
func (a *Audit) InFlight() bool {
	return a.Status.InFlight()
}

// ClearResults nils every extracted field and both classifications.
func (a *Audit) ClearResults() {
	a.Extraction = Extraction{}
	a.AIClassification = nil
	a.AIClassificationReason = nil
	a.ManualClassification = nil
	a.ClassificationNotes = nil
}

// MarshalJSON adds the derived effective_classification to the stored fields.
func (a Audit) MarshalJSON() ([]byte, error) {
	type stored Audit
	return json.Marshal(struct {
		stored
		EffectiveClassification *Grade `json:"effective_classification"`
	}{
		stored:                  stored(a),
		EffectiveClassification: a.EffectiveGrade(),
	})
}

// OverrideEntry is one append-only record of a manual classification.
type OverrideEntry struct {
	ID                uuid.UUID `json:"id"`
	AuditID           uuid.UUID `json:"audit_id"`
	Actor             string    `json:"actor"`
	OldEffectiveGrade *Grade    `json:"old_effective_grade"`
	NewGrade          Grade     `json:"new_grade"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
}

// Attempt is the append-only snapshot of one terminal extraction outcome.
type Attempt struct {
	ID      uuid.UUID `json:"id"`
	AuditID uuid.UUID `json:"audit_id"`
	Attempt int       `json:"attempt"`
	Status  Status    `json:"status"`

	Extraction

	AIClassification       *Grade    `json:"ai_classification"`
	AIClassificationReason *string   `json:"ai_classification_reason"`
	Error                  *string   `json:"error"`
	FinishedAt             time.Time `json:"finished_at"`
}

// Snapshot captures the terminal outcome currently held by a.
func Snapshot(a *Audit) *Attempt {
	return &Attempt{
		ID:                     uuid.New(),
		AuditID:                a.ID,
		Attempt:                a.Attempt,
		Status:                 a.Status,
		Extraction:             a.Extraction,
		AIClassification:       a.AIClassification,
		AIClassificationReason: a.AIClassificationReason,
		Error:                  a.ExtractionError,
	}
}

// Journal carries the history rows a mutation appends alongside the record write.
type Journal struct {
	Override *OverrideEntry
	Attempt  *Attempt
}
