// Package db provides PostgreSQL-backed repositories for the SEOPulse
// pipeline. All repositories accept a DBTX interface that is satisfied by
// both *pgxpool.Pool and pgx.Tx, so the same code runs inside or outside a
// transaction.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"seopulse/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = func() time.Time { return time.Now().UTC() }

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// notFound maps pgx.ErrNoRows to a not-found AppError and any other failure
// to an internal database error.
func notFound(err error, code types.ErrorCode, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(code, msg, nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
