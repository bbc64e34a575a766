package imports

import (
	"errors"
	"fmt"
)

// ErrAuthentication is returned when no principal is attached to the context.
var ErrAuthentication = errors.New("imports: no authenticated principal")

// ErrInterrupted is returned, wrapped around the context error, when a run
// stops before every batch was attempted. The accompanying Result is valid.
var ErrInterrupted = errors.New("imports: run interrupted")

// ParseError reports a malformed file. Nothing was written.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error on line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError names the first offending row. Row is the 1-based data row
// index, or zero for file-level problems. Nothing was written.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s %s", e.Row, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s %s", e.Field, e.Reason)
	default:
		return e.Reason
	}
}

// Phase names the write stage of an import.
type Phase string

const (
	PhaseOrganizations Phase = "organizations"
	PhaseSnapshots     Phase = "snapshots"
)

// BatchWriteError records one failed batch. Other batches may have committed.
type BatchWriteError struct {
	Phase Phase  `json:"phase"`
	Batch int    `json:"batch"`
	Rows  int    `json:"rows"`
	Err   error  `json:"-"`
	Cause string `json:"error"`
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("%s batch %d (%d rows): %v", e.Phase, e.Batch, e.Rows, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }
