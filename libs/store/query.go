package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Query narrows and orders a Select.
type Query struct {
	Where     sq.Sqlizer
	OrderBy   []string
	Limit     uint64
	ForUpdate bool
	// SkipLocked only applies together with ForUpdate.
	SkipLocked bool
}

var columnCache sync.Map

// Columns lists the `db` tags of T's exported fields in declaration order.
// Fields tagged "-" or untagged are skipped.
func Columns[T any]() []string {
	var zero T
	typ := reflect.TypeOf(zero)
	if cached, ok := columnCache.Load(typ); ok {
		return cached.([]string)
	}
	var cols []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		cols = append(cols, tag)
	}
	columnCache.Store(typ, cols)
	return cols
}

func buildSelect(table string, cols []string, q Query) (string, []any, error) {
	b := psql.Select(cols...).From(table)
	if q.Where != nil {
		b = b.Where(q.Where)
	}
	if len(q.OrderBy) > 0 {
		b = b.OrderBy(q.OrderBy...)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	switch {
	case q.ForUpdate && q.SkipLocked:
		b = b.Suffix("FOR UPDATE SKIP LOCKED")
	case q.ForUpdate:
		b = b.Suffix("FOR UPDATE")
	}
	return b.ToSql()
}

func returning(cols []string) string {
	return "RETURNING " + strings.Join(cols, ", ")
}

func Select[T any](ctx context.Context, q Querier, table string, query Query) ([]T, error) {
	sqlStr, args, err := buildSelect(table, Columns[T](), query)
	if err != nil {
		return nil, fmt.Errorf("select %s: build: %w", table, err)
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, classify("select", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, classify("select", table, err)
	}
	return out, nil
}

// Collect runs a hand-built select, such as a join, and maps rows onto T by
// column name.
func Collect[T any](ctx context.Context, q Querier, stmt sq.Sqlizer) ([]T, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("collect: build: %w", err)
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, classify("collect", "query", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, classify("collect", "query", err)
	}
	return out, nil
}

// Get returns the first row matching query, or ErrNotFound.
func Get[T any](ctx context.Context, q Querier, table string, query Query) (T, error) {
	query.Limit = 1
	rows, err := Select[T](ctx, q, table, query)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("select %s: %w", table, ErrNotFound)
	}
	return rows[0], nil
}

func Insert[T any](ctx context.Context, q Querier, table string, values map[string]any) (T, error) {
	var zero T
	sqlStr, args, err := psql.Insert(table).SetMap(values).Suffix(returning(Columns[T]())).ToSql()
	if err != nil {
		return zero, fmt.Errorf("insert %s: build: %w", table, err)
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return zero, classify("insert", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		return zero, classify("insert", table, err)
	}
	return row, nil
}

// Update applies patch to every row matching where and returns the updated rows.
func Update[T any](ctx context.Context, q Querier, table string, where sq.Sqlizer, patch map[string]any) ([]T, error) {
	sqlStr, args, err := psql.Update(table).SetMap(patch).Where(where).Suffix(returning(Columns[T]())).ToSql()
	if err != nil {
		return nil, fmt.Errorf("update %s: build: %w", table, err)
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, classify("update", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, classify("update", table, err)
	}
	return out, nil
}

func Delete(ctx context.Context, q Querier, table string, where sq.Sqlizer) (int64, error) {
	sqlStr, args, err := psql.Delete(table).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("delete %s: build: %w", table, err)
	}
	tag, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, classify("delete", table, err)
	}
	return tag.RowsAffected(), nil
}

// Exec runs an arbitrary statement built with Builder.
func Exec(ctx context.Context, q Querier, stmt sq.Sqlizer) (int64, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("exec: build: %w", err)
	}
	tag, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, classify("exec", "statement", err)
	}
	return tag.RowsAffected(), nil
}
