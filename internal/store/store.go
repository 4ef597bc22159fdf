// Package store implements typed persistence for all engine state on top of a
// pgx connection pool: per-tenant config, posted-entry dedup records, calendar
// state, map pins, webhook cache, and the HTTP cache. Queries are raw SQL; all
// operations are safe for concurrent use and atomic at the row level.
// Multi-row invariants (platform event + link) run inside WithTx.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

// Store bundles all domain repositories over one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks and ad-hoc stats queries.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// wrapErr classifies database errors: unique violations become domain
// conflicts, connection failures become transient, everything else passes
// through wrapped with the operation name.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return faults.New(faults.KindNotFound, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch kind := faults.KindOf(err); kind {
		case faults.KindIntegrityConflict, faults.KindTransient:
			return faults.New(kind, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err is a row-not-found condition.
func IsNotFound(err error) bool {
	return faults.KindOf(err) == faults.KindNotFound
}

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool {
	return faults.KindOf(err) == faults.KindIntegrityConflict
}
