// Package errors defines the small set of error kinds that every layer
// (store, queue, exec, secret) classifies its failures into, so callers
// across package boundaries can branch on kind instead of string-matching
// messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on failure type
// (e.g. the HTTP layer mapping store errors to status codes).
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindInvalid     Kind = "invalid"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindInternal    Kind = "internal"
)

// Error is a classified, wrapped error. It satisfies the standard errors.Is
// / errors.As protocol via Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation label, e.g.
//
//	errors.New(errors.KindNotFound, "queue.Pull", sql.ErrNoRows)
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	// ErrNotFound is returned by store lookups that find no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic precondition fails, e.g.
	// a concurrent dequeue already claimed the row.
	ErrConflict = errors.New("conflict")
)
