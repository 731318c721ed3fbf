// Package store is a small row-level query layer over pgx: select, insert,
// update and delete against a table with filters and ordering, with driver
// errors folded into three sentinels.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrConflict    = errors.New("store: conflict")
	ErrUnavailable = errors.New("store: unavailable")
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgx.Conn.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Builder returns a squirrel statement builder using $n placeholders.
func Builder() sq.StatementBuilderType {
	return psql
}

// Postgres error codes that mean "another writer got there first".
var conflictCodes = map[string]bool{
	"23P01": true, // exclusion_violation
	"23505": true, // unique_violation
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, table, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && conflictCodes[pgErr.Code] {
		if pgErr.ConstraintName != "" {
			return fmt.Errorf("%s %s: %w (%s)", op, table, ErrConflict, pgErr.ConstraintName)
		}
		return fmt.Errorf("%s %s: %w (%s)", op, table, ErrConflict, pgErr.Code)
	}
	return fmt.Errorf("%s %s: %w: %v", op, table, ErrUnavailable, err)
}

// Classify maps a raw driver error from a hand-written query the same way the
// helpers in this package do.
func Classify(op string, err error) error {
	return classify(op, "query", err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
