// Package faults defines the error taxonomy shared by the dispatch core.
// Callers branch on kind with errors.As rather than parsing messages.
package faults

import (
	"fmt"
	"strings"
)

// ValidationError reports missing or malformed caller input. Nothing is
// mutated when one is returned.
type ValidationError struct {
	Fields []string
	Msg    string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("validation failed: missing %s", strings.Join(e.Fields, ", "))
	}
	return "validation failed: " + e.Msg
}

func Missing(fields ...string) *ValidationError { return &ValidationError{Fields: fields} }

func Invalid(msg string) *ValidationError { return &ValidationError{Msg: msg} }

// NotFoundError reports an unknown ride or driver.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func NotFound(kind, id string) *NotFoundError { return &NotFoundError{Kind: kind, ID: id} }

// ConflictError reports a lost acceptance race or an illegal lifecycle
// transition. State is unchanged by the losing call.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(msg string) *ConflictError { return &ConflictError{Msg: msg} }

// PersistenceError wraps a store failure that could not be degraded away.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
