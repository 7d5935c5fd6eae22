package models

import (
	"errors"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
)

// Severity of a diagnostic entry.
type Severity string

const (
	SeverityInfo Severity = "INFO"
	SeverityWarn Severity = "WARN"
)

// Diagnostic codes.
const (
	DiagMissingTable            = "missing_table"
	DiagUnresolvableJoinKeys    = "unresolvable_join_keys"
	DiagEmptyCandidate          = "empty_candidate"
	DiagClassificationUnknown   = "classification_unknown"
	DiagInvalidJoin             = "invalid_join"
	DiagQueryParseFailed        = "query_parse_failed"
	DiagRelationshipDeactivated = "relationship_deactivated"
	DiagRelationshipDropped     = "relationship_dropped"
	DiagStagingDisabled         = "staging_disabled"
)

// Diagnostic records a recovered data-quality problem or a notable decision.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Tables   []string `json:"tables,omitempty"`
}

// NewDiagnostic builds a diagnostic from one of the apperrors data-quality errors.
// The code is derived from the wrapped sentinel.
func NewDiagnostic(severity Severity, err error, tables ...string) Diagnostic {
	return Diagnostic{
		Severity: severity,
		Code:     diagnosticCode(err),
		Message:  err.Error(),
		Tables:   tables,
	}
}

func diagnosticCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrMissingTable):
		return DiagMissingTable
	case errors.Is(err, apperrors.ErrUnresolvableJoinKeys):
		return DiagUnresolvableJoinKeys
	case errors.Is(err, apperrors.ErrEmptyCandidate):
		return DiagEmptyCandidate
	case errors.Is(err, apperrors.ErrClassificationUnknown):
		return DiagClassificationUnknown
	default:
		return DiagInvalidJoin
	}
}

// Diagnostics is an append-only, insertion-ordered diagnostic buffer.
// It is not safe for concurrent use; parallel work gets one buffer per unit
// and merges them afterwards.
type Diagnostics struct {
	entries []Diagnostic
}

// Add appends a diagnostic with an explicit code.
func (d *Diagnostics) Add(severity Severity, code, message string, tables ...string) {
	d.entries = append(d.entries, Diagnostic{
		Severity: severity,
		Code:     code,
		Message:  message,
		Tables:   tables,
	})
}

// AddError appends a diagnostic derived from a data-quality error.
func (d *Diagnostics) AddError(severity Severity, err error, tables ...string) {
	d.entries = append(d.entries, NewDiagnostic(severity, err, tables...))
}

// Merge appends all entries of other, preserving their order.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.entries = append(d.entries, other.entries...)
}

// Entries returns the collected diagnostics. The result is never nil.
func (d *Diagnostics) Entries() []Diagnostic {
	out := make([]Diagnostic, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of diagnostics collected.
func (d *Diagnostics) Len() int {
	return len(d.entries)
}

// Count returns how many diagnostics carry code.
func (d *Diagnostics) Count(code string) int {
	n := 0
	for _, e := range d.entries {
		if e.Code == code {
			n++
		}
	}
	return n
}
