package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestKindOf_WrappedError(t *testing.T) {
	base := New(KindPermanentSource, "parsing feed", errors.New("bad xml"))
	wrapped := fmt.Errorf("polling feed: %w", base)

	if got := KindOf(wrapped); got != KindPermanentSource {
		t.Errorf("KindOf = %v, want PermanentSource", got)
	}
}

func TestKindOf_ContextCancellation(t *testing.T) {
	if got := KindOf(context.Canceled); got != KindTransient {
		t.Errorf("KindOf(Canceled) = %v, want Transient", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTransient {
		t.Errorf("KindOf(DeadlineExceeded) = %v, want Transient", got)
	}
}

func TestKindOf_PgUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	wrapped := fmt.Errorf("creating feed: %w", pgErr)

	if got := KindOf(wrapped); got != KindIntegrityConflict {
		t.Errorf("KindOf = %v, want IntegrityConflict", got)
	}
	if IsRetryable(wrapped) {
		t.Error("uniqueness violations must never be retried")
	}
}

func TestKindOf_PgConnectionFailure(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	if got := KindOf(pgErr); got != KindTransient {
		t.Errorf("KindOf = %v, want Transient", got)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindTransient},
		{500, KindTransient},
		{502, KindTransient},
		{404, KindNotFound},
		{400, KindPermanentSource},
		{403, KindPermanentSource},
		{410, KindPermanentSource},
	}
	for _, tt := range tests {
		if got := FromHTTPStatus(tt.status); got != tt.want {
			t.Errorf("FromHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindTransient, "op", errors.New("timeout"))) {
		t.Error("transient errors must be retryable")
	}
	for _, kind := range []Kind{KindPermanentSource, KindIntegrityConflict, KindNotFound, KindOutOfBounds, KindInternal} {
		if IsRetryable(New(kind, "op", errors.New("x"))) {
			t.Errorf("%v must not be retryable", kind)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(KindOutOfBounds, "pinning location", "outside the %s map", "germany")
	if err.Error() != "pinning location: outside the germany map" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap must expose the cause")
	}
}
