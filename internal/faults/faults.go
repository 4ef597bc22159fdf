// Package faults defines the error kinds the sync engine distinguishes and
// helpers for classifying errors from HTTP, PostgreSQL, and the chat platform.
// Retry decisions and failure counters inspect these kinds instead of concrete
// error types.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error for retry and reporting purposes.
type Kind int

const (
	// KindInternal is the fallback for unclassified errors. Logged with full
	// context; the owning task continues at its next tick.
	KindInternal Kind = iota

	// KindTransient covers timeouts, connection errors, 5xx, and 429.
	// Retried by the retry fabric.
	KindTransient

	// KindPermanentSource covers 4xx (other than 429) and parse failures of
	// an external source. Counted toward the failure threshold; never retried.
	KindPermanentSource

	// KindIntegrityConflict is a uniqueness violation (duplicate feed name,
	// duplicate pin). Surfaced to the caller; never retried.
	KindIntegrityConflict

	// KindNotFound means a message or platform event is already gone.
	// Deletions treat it as success; edits log a warning.
	KindNotFound

	// KindOutOfBounds means a geocoded coordinate lies outside the configured
	// map region. Surfaced to the user that issued the pin.
	KindOutOfBounds
)

// String returns the kind's name for logging.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanentSource:
		return "permanent_source"
	case KindIntegrityConflict:
		return "integrity_conflict"
	case KindNotFound:
		return "not_found"
	case KindOutOfBounds:
		return "out_of_bounds"
	default:
		return "internal"
	}
}

// Error carries a kind, the operation that failed, and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the name of the failed operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, walking the wrap chain. Unwrapped network
// and database errors are classified on the fly; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	// Context cancellation is not a source failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return kindFromPgCode(pgErr.Code)
	}

	return KindInternal
}

// IsRetryable reports whether the retry fabric should re-attempt an operation
// that failed with err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// FromHTTPStatus maps an HTTP response status to an error kind. 2xx statuses
// map to internal because they should never reach classification.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == 404:
		return KindNotFound
	case status >= 400:
		return KindPermanentSource
	default:
		return KindInternal
	}
}

// kindFromPgCode maps PostgreSQL SQLSTATE codes. Unique violations (23505)
// are domain conflicts, other class 23 codes are not; class 08 connection
// failures are transient.
func kindFromPgCode(code string) Kind {
	switch {
	case code == "23505":
		return KindIntegrityConflict
	case len(code) >= 2 && code[:2] == "08":
		return KindTransient
	case code == "57P01" || code == "57P02" || code == "57P03":
		return KindTransient
	default:
		return KindInternal
	}
}
