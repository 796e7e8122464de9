package rbac

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// ErrRecordNotFound is returned by repositories when a lookup or keyed delete matches no row.
var ErrRecordNotFound = errors.New("rbac: record not found")

// ValidationError reports malformed input or a name that is already taken.
type ValidationError struct {
	Entity string
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("rbac: %s %s %q %s", e.Entity, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("rbac: %s %s %s", e.Entity, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// NotFoundError reports that a referenced entity or relation row does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rbac: %s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return httpx.ErrNotFound }

// ConflictError reports a duplicate assignment or a blocked role deletion.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rbac: %s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return httpx.ErrConflict }

// StoreError wraps an unclassified failure of the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("rbac: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Kind names the error kind of err for metrics and logs: "validation", "not_found",
// "conflict", "store", or "" for nil.
func Kind(err error) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	default:
		return "store"
	}
}

func storeError(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// classified reports whether err is already one of the package's error kinds.
func classified(err error) bool {
	switch Kind(err) {
	case "validation", "not_found", "conflict":
		return true
	}
	var se *StoreError
	return errors.As(err, &se)
}

func pairID(left, right fmt.Stringer) string {
	return left.String() + ":" + right.String()
}
