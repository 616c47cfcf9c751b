// Package classifications resolves the grade in force for an audit. The automated
// grade comes from extraction; a human override with a written justification takes
// precedence and is recorded in an append-only trail.
package classifications

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JaimeStill/assay/internal/audits"
)

// Justification length bounds, counted in characters after trimming.
const (
	MinNotesLength = 10
	MaxNotesLength = 2000
)

// AnonymousActor is recorded when an override carries no identity.
const AnonymousActor = "anonymous"

// OverrideCommand carries a manual classification for one audit.
// OverriddenBy is used only when the request is unauthenticated.
type OverrideCommand struct {
	Classification string `json:"classification"`
	Notes          string `json:"notes"`
	OverriddenBy   string `json:"overridden_by"`
}

// Override is a validated OverrideCommand bound to its audit and actor.
type Override struct {
	SupplierID string
	Grade      audits.Grade
	Notes      string
	Actor      string
}

// NormalizeNotes trims notes and enforces the justification length bounds.
func NormalizeNotes(notes string) (string, error) {
	trimmed := strings.TrimSpace(notes)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n < MinNotesLength:
		return "", fmt.Errorf("%w: %d of %d characters", ErrNotesTooShort, n, MinNotesLength)
	case n > MaxNotesLength:
		return "", fmt.Errorf("%w: %d of %d characters", ErrNotesTooLong, n, MaxNotesLength)
	}
	return trimmed, nil
}

// Resolve validates cmd for supplierID. Input checks run before any state is read.
func (cmd OverrideCommand) Resolve(supplierID, actor string) (*Override, error) {
	grade, err := audits.ParseGrade(cmd.Classification)
	if err != nil {
		return nil, err
	}

	notes, err := NormalizeNotes(cmd.Notes)
	if err != nil {
		return nil, err
	}

	if actor == "" {
		actor = strings.TrimSpace(cmd.OverriddenBy)
	}
	if actor == "" {
		actor = AnonymousActor
	}

	return &Override{
		SupplierID: supplierID,
		Grade:      grade,
		Notes:      notes,
		Actor:      actor,
	}, nil
}
