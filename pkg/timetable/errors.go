package timetable

import (
	"errors"
	"fmt"
)

// Row resolution errors. Use errors.Is against these; the concrete error is
// a *ResolveError carrying the position and types involved.
var (
	ErrEmptyRow          = errors.New("row is empty")
	ErrAmbiguousRow      = errors.New("row has more than one element")
	ErrNoRowValue        = errors.New("row has neither current nor removed value")
	ErrRowRemoved        = errors.New("row was removed")
	ErrUnexpectedRowType = errors.New("unexpected row type")
)

// ErrSchemaMismatch reports that the payload's format version differs from
// FormatVersion. It is never recoverable without a new build.
var ErrSchemaMismatch = errors.New("format version mismatch")

// ErrMalformed reports a payload that is not valid JSON or does not fit the
// expected types.
var ErrMalformed = errors.New("malformed timetable payload")

// ErrShapeMismatch reports a structural surprise: a wrong number of days,
// a day other than the requested one, or a lesson count that changed within a day.
var ErrShapeMismatch = errors.New("shape mismatch")

// ResolveError describes why a position slot could not be resolved.
type ResolveError struct {
	Position int     // 1, 2 or 3
	Expected RowType // role the caller asked for
	Actual   RowType // only meaningful for ErrUnexpectedRowType
	Count    int     // only meaningful for ErrAmbiguousRow
	Kind     error
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case ErrAmbiguousRow:
		return fmt.Sprintf("position%d: row has %d elements (expected exactly one)", e.Position, e.Count)
	case ErrUnexpectedRowType:
		return fmt.Sprintf("position%d: expected row type %s but got %s", e.Position, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("position%d (%s): %v", e.Position, e.Expected, e.Kind)
	}
}

func (e *ResolveError) Unwrap() error {
	return e.Kind
}

// FormatVersionError is returned by Decode when the payload version tag does
// not match the version this build understands.
type FormatVersionError struct {
	Expected int
	Got      int
	Missing  bool
}

func (e *FormatVersionError) Error() string {
	if e.Missing {
		return fmt.Sprintf("format version missing: expected %d (contact project maintainers)", e.Expected)
	}
	return fmt.Sprintf("format version mismatch: expected %d, got %d (contact project maintainers)", e.Expected, e.Got)
}

func (e *FormatVersionError) Unwrap() error {
	return ErrSchemaMismatch
}

// ShapeError carries the counts behind an ErrShapeMismatch.
type ShapeError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", e.What, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// IsRowResolution reports whether err stems from resolving a position slot.
func IsRowResolution(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}
