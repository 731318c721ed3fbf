package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/projector"
)

const (
	bookingsTable     = "bookings"
	statusEventsTable = "booking_status_events"

	// staffOverlapConstraint is the exclusion constraint on bookings.
	staffOverlapConstraint = "bookings_staff_no_overlap"
)

type bookingRow struct {
	ID         string    `db:"id"`
	ServiceID  string    `db:"service_id"`
	StaffID    string    `db:"staff_id"`
	RoomID     *string   `db:"room_id"`
	CustomerID string    `db:"customer_id"`
	StartTime  time.Time `db:"start_time"`
	EndTime    time.Time `db:"end_time"`
	Status     string    `db:"status"`
	Notes      string    `db:"notes"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r bookingRow) toBooking() booking.Booking {
	b := booking.Booking{
		ID:         r.ID,
		ServiceID:  r.ServiceID,
		StaffID:    r.StaffID,
		CustomerID: r.CustomerID,
		Start:      r.StartTime.UTC(),
		End:        r.EndTime.UTC(),
		Status:     booking.Status(r.Status),
		Notes:      r.Notes,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.RoomID != nil {
		b.RoomID = *r.RoomID
	}
	return b
}

func toBookings(rows []bookingRow) []booking.Booking {
	out := make([]booking.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toBooking())
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BookingRepository is the Postgres ledger. It serves the ledger, the
// availability index and the calendar projector.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) DB() store.Querier {
	return r.pool
}

// InTx runs fn in a read-committed transaction. Errors from fn are returned
// as is; failures to begin or commit are mapped like any other store error.
func (r *BookingRepository) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	var fnErr error
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return mapErr(store.Classify("tx", err))
	}
	return err
}

// LockResources takes transaction-scoped advisory locks, in the order given.
func (r *BookingRepository) LockResources(ctx context.Context, q store.Querier, keys ...string) error {
	for _, key := range keys {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return mapErr(store.Classify("advisory lock "+key, err))
		}
	}
	return nil
}

func (r *BookingRepository) Insert(ctx context.Context, q store.Querier, b booking.Booking) (booking.Booking, error) {
	row, err := store.Insert[bookingRow](ctx, q, bookingsTable, map[string]any{
		"id":          b.ID,
		"service_id":  b.ServiceID,
		"staff_id":    b.StaffID,
		"room_id":     nullable(b.RoomID),
		"customer_id": b.CustomerID,
		"start_time":  b.Start,
		"end_time":    b.End,
		"status":      string(b.Status),
		"notes":       b.Notes,
	})
	if err != nil {
		return booking.Booking{}, mapErr(err)
	}
	return row.toBooking(), nil
}

func (r *BookingRepository) Get(ctx context.Context, q store.Querier, id string) (booking.Booking, error) {
	return r.get(ctx, q, id, false)
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, q store.Querier, id string) (booking.Booking, error) {
	return r.get(ctx, q, id, true)
}

func (r *BookingRepository) get(ctx context.Context, q store.Querier, id string, forUpdate bool) (booking.Booking, error) {
	row, err := store.Get[bookingRow](ctx, q, bookingsTable, store.Query{
		Where:     sq.Eq{"id": id},
		ForUpdate: forUpdate,
	})
	if err != nil {
		return booking.Booking{}, mapErr(err)
	}
	return row.toBooking(), nil
}

func (r *BookingRepository) UpdateTime(ctx context.Context, q store.Querier, id string, start, end time.Time) (booking.Booking, error) {
	return r.update(ctx, q, id, map[string]any{
		"start_time": start,
		"end_time":   end,
		"updated_at": sq.Expr("now()"),
	})
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, q store.Querier, id string, status booking.Status) (booking.Booking, error) {
	return r.update(ctx, q, id, map[string]any{
		"status":     string(status),
		"updated_at": sq.Expr("now()"),
	})
}

func (r *BookingRepository) update(ctx context.Context, q store.Querier, id string, patch map[string]any) (booking.Booking, error) {
	rows, err := store.Update[bookingRow](ctx, q, bookingsTable, sq.Eq{"id": id}, patch)
	if err != nil {
		return booking.Booking{}, mapErr(err)
	}
	if len(rows) == 0 {
		return booking.Booking{}, fmt.Errorf("%w: %s", booking.ErrNotFound, id)
	}
	return rows[0].toBooking(), nil
}

func (r *BookingRepository) Delete(ctx context.Context, q store.Querier, id string) error {
	n, err := store.Delete(ctx, q, bookingsTable, sq.Eq{"id": id})
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", booking.ErrNotFound, id)
	}
	return nil
}

// List returns bookings newest first.
func (r *BookingRepository) List(ctx context.Context, q store.Querier, f booking.ListFilter) ([]booking.Booking, error) {
	where := sq.And{}
	if f.StaffID != "" {
		where = append(where, sq.Eq{"staff_id": f.StaffID})
	}
	if f.RoomID != "" {
		where = append(where, sq.Eq{"room_id": f.RoomID})
	}
	if f.CustomerID != "" {
		where = append(where, sq.Eq{"customer_id": f.CustomerID})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	if !f.From.IsZero() {
		where = append(where, sq.Gt{"end_time": f.From})
	}
	if !f.To.IsZero() {
		where = append(where, sq.Lt{"start_time": f.To})
	}

	query := store.Query{OrderBy: []string{"start_time DESC", "id"}}
	if len(where) > 0 {
		query.Where = where
	}
	if f.Limit > 0 {
		query.Limit = uint64(f.Limit)
	}
	rows, err := store.Select[bookingRow](ctx, q, bookingsTable, query)
	if err != nil {
		return nil, mapErr(err)
	}
	return toBookings(rows), nil
}

func (r *BookingRepository) RecordStatusEvent(ctx context.Context, q store.Querier, evt booking.StatusEvent) error {
	_, err := store.Exec(ctx, q, store.Builder().Insert(statusEventsTable).SetMap(map[string]any{
		"booking_id":  evt.BookingID,
		"from_status": evt.From,
		"to_status":   evt.To,
		"actor_id":    evt.ActorID,
		"actor_role":  evt.ActorRole,
	}))
	return mapErr(err)
}

// ActiveBookings returns non-cancelled bookings of one staff member or room
// overlapping window, ordered by start.
func (r *BookingRepository) ActiveBookings(ctx context.Context, q store.Querier, kind booking.Kind, resourceID string, window availability.Interval) ([]booking.Booking, error) {
	var col string
	switch kind {
	case booking.KindStaff:
		col = "staff_id"
	case booking.KindRoom:
		col = "room_id"
	default:
		return nil, fmt.Errorf("active bookings: unsupported kind %q", kind)
	}

	where := sq.And{
		sq.Eq{col: resourceID},
		sq.NotEq{"status": string(booking.StatusCancelled)},
	}
	if !window.Start.IsZero() {
		where = append(where, sq.Gt{"end_time": window.Start})
	}
	if !window.End.IsZero() {
		where = append(where, sq.Lt{"start_time": window.End})
	}
	rows, err := store.Select[bookingRow](ctx, q, bookingsTable, store.Query{
		Where:   where,
		OrderBy: []string{"start_time"},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return toBookings(rows), nil
}

// CalendarRows joins bookings overlapping window with their resource names.
// Missing resources come back as NULL names.
func (r *BookingRepository) CalendarRows(ctx context.Context, window availability.Interval) ([]projector.Row, error) {
	stmt := store.Builder().
		Select(
			"b.id", "b.service_id", "b.staff_id", "b.room_id", "b.customer_id",
			"b.start_time", "b.end_time", "b.status", "b.notes",
			"s.name AS service_name", "st.name AS staff_name", "rm.name AS room_name",
		).
		From(bookingsTable + " b").
		LeftJoin("services s ON s.id = b.service_id").
		LeftJoin("staff st ON st.id = b.staff_id").
		LeftJoin("rooms rm ON rm.id = b.room_id").
		OrderBy("b.start_time", "b.id")

	where := sq.And{}
	if !window.Start.IsZero() {
		where = append(where, sq.Gt{"b.end_time": window.Start})
	}
	if !window.End.IsZero() {
		where = append(where, sq.Lt{"b.start_time": window.End})
	}
	if len(where) > 0 {
		stmt = stmt.Where(where)
	}

	rows, err := store.Collect[projector.Row](ctx, r.pool, stmt)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// mapErr translates store sentinels into booking errors. A violation of the
// staff exclusion constraint is also reported as a staff conflict.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case store.IsNotFound(err):
		return fmt.Errorf("%w: %v", booking.ErrNotFound, err)
	case store.IsConflict(err):
		if strings.Contains(err.Error(), staffOverlapConstraint) {
			return errors.Join(booking.ErrConflict, booking.ErrStaffConflict, err)
		}
		return fmt.Errorf("%w: %v", booking.ErrConflict, err)
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	default:
		return err
	}
}
