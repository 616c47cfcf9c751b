package audits

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JaimeStill/assay/pkg/formatting"
)

// ExportSheet is the worksheet name of history exports.
const ExportSheet = "Audits"

var exportHeaders = []string{
	"Uploaded",
	"Audit Type",
	"Filename",
	"Size",
	"Status",
	"Audit Date",
	"Supplier Type",
	"Employees",
	"Factory Area (sqm)",
	"Production Lines",
	"Certifications",
	"Markets Served",
	"AI Grade",
	"Manual Grade",
	"Effective Grade",
	"Notes",
}

// WriteXLSX writes list as a single-sheet workbook, one row per audit in the order given.
func WriteXLSX(w io.Writer, list []Audit) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(ExportSheet, cell, h); err != nil {
			return fmt.Errorf("xlsx header: %w", err)
		}
	}

	for i := range list {
		a := &list[i]
		row := []any{
			a.CreatedAt.UTC().Format("2006-01-02 15:04"),
			string(a.AuditType),
			a.Filename,
			formatting.FormatBytes(a.SizeBytes, 1),
			string(a.Status),
			dateCell(a),
			deref(a.SupplierType),
			derefInt(a.EmployeeCount),
			derefFloat(a.FactoryAreaSqm),
			derefInt(a.ProductionLinesCount),
			strings.Join(a.Certifications, ", "),
			marketsCell(a.MarketsServed),
			gradeCell(a.AIClassification),
			gradeCell(a.ManualClassification),
			gradeCell(a.EffectiveGrade()),
			deref(a.ClassificationNotes),
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(ExportSheet, "A", "B", 20)
	_ = f.SetColWidth(ExportSheet, "C", "C", 36)
	_ = f.SetColWidth(ExportSheet, "K", "L", 40)
	_ = f.SetColWidth(ExportSheet, "P", "P", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func dateCell(a *Audit) string {
	if a.AuditDate == nil {
		return ""
	}
	return a.AuditDate.Format("2006-01-02")
}

func marketsCell(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for _, region := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s %g%%", region, m[region]))
	}
	return strings.Join(parts, ", ")
}

func gradeCell(g *Grade) string {
	if g == nil {
		return ""
	}
	return string(*g)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) any {
	if n == nil {
		return ""
	}
	return *n
}

func derefFloat(n *float64) any {
	if n == nil {
		return ""
	}
	return *n
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}
