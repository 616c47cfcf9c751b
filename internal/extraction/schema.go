package extraction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/pkg/formatting"
)

//go:embed result.schema.json
var resultSchema []byte

const resultSchemaURL = "result.schema.json"

// CompileSchema compiles the JSON schema that engine payloads must satisfy.
func CompileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resultSchemaURL, bytes.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(resultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

type payload struct {
	SupplierType         *string            `json:"supplier_type"`
	EmployeeCount        *int               `json:"employee_count"`
	FactoryAreaSqm       *float64           `json:"factory_area_sqm"`
	ProductionLinesCount *int               `json:"production_lines_count"`
	Certifications       []string           `json:"certifications"`
	MarketsServed        map[string]float64 `json:"markets_served"`
	PositivePoints       []string           `json:"positive_points"`
	NegativePoints       []string           `json:"negative_points"`
	AuditDate            *string            `json:"audit_date"`
	Classification       string             `json:"classification"`
	ClassificationReason string             `json:"classification_reason"`
}

// DecodeResult extracts the JSON payload from content, plain or inside a markdown
// code fence, validates it against schema, and maps it to a Result.
func DecodeResult(schema *jsonschema.Schema, content string) (*Result, error) {
	raw, err := formatting.Parse[json.RawMessage](content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	return p.result()
}

func (p payload) result() (*Result, error) {
	grade, err := audits.ParseGrade(p.Classification)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}

	r := &Result{
		Extraction: audits.Extraction{
			SupplierType:         p.SupplierType,
			EmployeeCount:        p.EmployeeCount,
			FactoryAreaSqm:       p.FactoryAreaSqm,
			ProductionLinesCount: p.ProductionLinesCount,
			Certifications:       p.Certifications,
			MarketsServed:        p.MarketsServed,
			PositivePoints:       p.PositivePoints,
			NegativePoints:       p.NegativePoints,
		},
		Classification: grade,
		Reason:         p.ClassificationReason,
	}

	if p.AuditDate != nil {
		d, err := time.Parse(time.DateOnly, *p.AuditDate)
		if err != nil {
			return nil, fmt.Errorf("%w: audit_date: %w", ErrInvalidResult, err)
		}
		r.AuditDate = &d
	}
	return r, nil
}
