package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type sampleRow struct {
	ID        string    `db:"id"`
	StartTime time.Time `db:"start_time"`
	Ignored   string    `db:"-"`
	Untagged  string
	internal  string
}

func TestColumns(t *testing.T) {
	cols := Columns[sampleRow]()
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "start_time" {
		t.Fatalf("unexpected columns: %#v", cols)
	}
	if again := Columns[sampleRow](); &again[0] != &cols[0] {
		t.Fatalf("expected cached slice")
	}
}

func TestBuildSelect(t *testing.T) {
	sqlStr, args, err := buildSelect("bookings", []string{"id", "start_time"}, Query{
		Where:     sq.And{sq.Eq{"staff_id": "s1"}, sq.NotEq{"status": "cancelled"}},
		OrderBy:   []string{"start_time ASC"},
		Limit:     5,
		ForUpdate: true,
	})
	if err != nil {
		t.Fatalf("buildSelect: %v", err)
	}
	want := "SELECT id, start_time FROM bookings WHERE (staff_id = $1 AND status <> $2) ORDER BY start_time ASC LIMIT 5 FOR UPDATE"
	if sqlStr != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", sqlStr, want)
	}
	if len(args) != 2 || args[0] != "s1" || args[1] != "cancelled" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBuildSelectWithoutFilters(t *testing.T) {
	sqlStr, args, err := buildSelect("rooms", []string{"id"}, Query{})
	if err != nil {
		t.Fatalf("buildSelect: %v", err)
	}
	if sqlStr != "SELECT id FROM rooms" || len(args) != 0 {
		t.Fatalf("unexpected sql %q args %#v", sqlStr, args)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"exclusion", &pgconn.PgError{Code: "23P01", ConstraintName: "bookings_staff_no_overlap"}, ErrConflict},
		{"unique", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"}), ErrConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrConflict},
		{"fk", &pgconn.PgError{Code: "23503"}, ErrUnavailable},
		{"network", errors.New("dial tcp: connection refused"), ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("insert", "bookings", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
	if classify("insert", "bookings", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestBuildSelectSkipLocked(t *testing.T) {
	sqlStr, _, err := buildSelect("outbox_events", []string{"id"}, Query{
		Where:      sq.Eq{"published_at": nil},
		OrderBy:    []string{"id"},
		Limit:      10,
		ForUpdate:  true,
		SkipLocked: true,
	})
	if err != nil {
		t.Fatalf("buildSelect: %v", err)
	}
	want := "SELECT id FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT 10 FOR UPDATE SKIP LOCKED"
	if sqlStr != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", sqlStr, want)
	}
}
