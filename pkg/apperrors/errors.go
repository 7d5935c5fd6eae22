package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrMissingTable          = errors.New("missing table")
	ErrUnresolvableJoinKeys  = errors.New("unresolvable join keys")
	ErrEmptyCandidate        = errors.New("empty candidate")
	ErrClassificationUnknown = errors.New("classification unknown")
)

// MissingTableError reports a join that references a table absent from the schema.
type MissingTableError struct {
	Table  string
	Origin string // where the reference came from, e.g. "relationship[2]"
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("%s: table %q referenced by %s is not in the schema", ErrMissingTable, e.Table, e.Origin)
}

func (e *MissingTableError) Unwrap() error { return ErrMissingTable }

// UnresolvableJoinKeysError reports a join for which no usable column lists exist.
type UnresolvableJoinKeysError struct {
	LeftTable  string
	RightTable string
	Origin     string
	Detail     string
}

func (e *UnresolvableJoinKeysError) Error() string {
	msg := fmt.Sprintf("%s: join %s <-> %s", ErrUnresolvableJoinKeys, e.LeftTable, e.RightTable)
	if e.Origin != "" {
		msg += " from " + e.Origin
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *UnresolvableJoinKeysError) Unwrap() error { return ErrUnresolvableJoinKeys }

// EmptyCandidateWarning reports a connected component the selection policy rejected.
type EmptyCandidateWarning struct {
	Tables []string
	Reason string
}

func (e *EmptyCandidateWarning) Error() string {
	return fmt.Sprintf("%s: [%s] not staged: %s", ErrEmptyCandidate, strings.Join(e.Tables, ", "), e.Reason)
}

func (e *EmptyCandidateWarning) Unwrap() error { return ErrEmptyCandidate }

// ClassificationUnknownWarning reports a table whose role could not be determined.
type ClassificationUnknownWarning struct {
	Table  string
	Reason string
}

func (e *ClassificationUnknownWarning) Error() string {
	return fmt.Sprintf("%s: table %q: %s", ErrClassificationUnknown, e.Table, e.Reason)
}

func (e *ClassificationUnknownWarning) Unwrap() error { return ErrClassificationUnknown }
