// Package repository is the storage layer for quota and booking state.
//
// All quota mutations go through the atomic primitives defined here. The unit
// of consistency is the single account row: each mutating statement either
// updates one row under a row lock or runs inside a transaction scoped to one
// account. No caller reads quota state and writes it back in a second call.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

// Postgres error codes translated to domain errors.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// Store provides access to accounts, bookings, and applied billing events.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// translateErr maps database failures onto the domain error taxonomy.
// Serialization failures and deadlocks become retryable contention errors;
// check violations mean a quota invariant would have been broken and the
// statement was rolled back.
func translateErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return domain.Contention(err, op)
		case pgUniqueViolation:
			return domain.Conflict(op, "record already exists")
		case pgCheckViolation:
			return domain.Internal(err, op, "quota invariant violated, change rolled back")
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Errorf(domain.ENOTFOUND, op, "record not found")
	}
	return domain.Internal(err, op, "database error")
}
