// Package ledger is the authoritative write path for bookings. Every change
// is re-validated inside a transaction that holds advisory locks on the
// affected staff member and room, and is published through the outbox.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/libs/outbox"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/validator"
)

type Repository interface {
	// DB is the non-transactional querier used for reads and fast-path checks.
	DB() store.Querier
	InTx(ctx context.Context, fn func(q store.Querier) error) error
	// LockResources serialises writers on the given keys until the transaction ends.
	LockResources(ctx context.Context, q store.Querier, keys ...string) error
	Insert(ctx context.Context, q store.Querier, b booking.Booking) (booking.Booking, error)
	Get(ctx context.Context, q store.Querier, id string) (booking.Booking, error)
	GetForUpdate(ctx context.Context, q store.Querier, id string) (booking.Booking, error)
	UpdateTime(ctx context.Context, q store.Querier, id string, start, end time.Time) (booking.Booking, error)
	UpdateStatus(ctx context.Context, q store.Querier, id string, status booking.Status) (booking.Booking, error)
	Delete(ctx context.Context, q store.Querier, id string) error
	List(ctx context.Context, q store.Querier, filter booking.ListFilter) ([]booking.Booking, error)
	RecordStatusEvent(ctx context.Context, q store.Querier, evt booking.StatusEvent) error
}

type Events interface {
	Insert(ctx context.Context, q store.Querier, evt outbox.Event) error
}

type SlotValidator interface {
	Validate(ctx context.Context, q store.Querier, slot booking.Slot, req booking.Requester, opts validator.Options) error
}

type Index interface {
	BusyIntervals(ctx context.Context, q store.Querier, kind booking.Kind, resourceID string, window availability.Interval, excludeBookingID string) ([]availability.Interval, error)
	FreeSlots(ctx context.Context, q store.Querier, staffID string, window availability.Interval, duration, step time.Duration, now time.Time) ([]time.Time, error)
}

type Catalog interface {
	Lookup(ctx context.Context, kind booking.Kind, id string) (booking.Resource, error)
}

const (
	EventCreated       = "booking.created.v1"
	EventRescheduled   = "booking.rescheduled.v1"
	EventStatusChanged = "booking.status_changed.v1"
	EventRemoved       = "booking.removed.v1"
)

type Ledger struct {
	repo      Repository
	validator SlotValidator
	index     Index
	catalog   Catalog
	events    Events
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Deps struct {
	Repo      Repository
	Validator SlotValidator
	Index     Index
	Catalog   Catalog
	Events    Events
	Metrics   *Metrics
	Logger    *slog.Logger
}

func New(d Deps) *Ledger {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		repo:      d.Repo,
		validator: d.Validator,
		index:     d.Index,
		catalog:   d.Catalog,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Validate checks a proposed slot against the committed ledger without
// writing anything.
func (l *Ledger) Validate(ctx context.Context, slot booking.Slot, req booking.Requester) error {
	slot = ownSlot(slot, req)
	err := l.validator.Validate(ctx, l.repo.DB(), slot, req, validator.Options{})
	if booking.IsValidation(err) {
		l.metrics.rejected(err)
	}
	return err
}

// Create books slot. The fast-path check reports the specific rejection
// reason; the same check repeated under lock at commit time reports a lost
// race as ErrConflict joined with the reason.
func (l *Ledger) Create(ctx context.Context, slot booking.Slot, req booking.Requester) (booking.Booking, error) {
	slot = ownSlot(slot, req)
	if err := l.validator.Validate(ctx, l.repo.DB(), slot, req, validator.Options{}); err != nil {
		if booking.IsValidation(err) {
			l.metrics.rejected(err)
		}
		return booking.Booking{}, err
	}

	var created booking.Booking
	err := l.repo.InTx(ctx, func(q store.Querier) error {
		if err := l.repo.LockResources(ctx, q, lockKeys(slot.StaffID, slot.RoomID)...); err != nil {
			return err
		}
		if err := l.validator.Validate(ctx, q, slot, req, validator.Options{}); err != nil {
			return commitConflict(err)
		}
		b, err := l.repo.Insert(ctx, q, booking.Booking{
			ID:         l.newID(),
			ServiceID:  slot.ServiceID,
			StaffID:    slot.StaffID,
			RoomID:     slot.RoomID,
			CustomerID: slot.CustomerID,
			Start:      slot.Start.UTC(),
			End:        slot.End.UTC(),
			Status:     booking.StatusPending,
			Notes:      slot.Notes,
		})
		if err != nil {
			return err
		}
		if err := l.emit(ctx, q, EventCreated, b.ID, bookingPayload{Booking: b, ActorID: req.UserID}); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		l.observeConflict(err)
		return booking.Booking{}, err
	}

	l.metrics.created.Inc()
	l.logger.Info("booking created",
		"booking_id", created.ID,
		"staff_id", created.StaffID,
		"room_id", created.RoomID,
		"start", created.Start,
		"actor_id", req.UserID,
	)
	return created, nil
}

// Reschedule moves a booking to [start, end). Moving to the current times is
// a no-op that returns the booking unchanged.
func (l *Ledger) Reschedule(ctx context.Context, id string, start, end time.Time, req booking.Requester) (booking.Booking, error) {
	var out booking.Booking
	err := l.repo.InTx(ctx, func(q store.Querier) error {
		b, err := l.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return fmt.Errorf("%w: cannot reschedule %s booking", booking.ErrInvalidTransition, b.Status)
		}
		if !req.Privileged() && (!req.Owns(b) || b.Status != booking.StatusPending) {
			return fmt.Errorf("%w: customers may only move their own pending bookings", booking.ErrForbidden)
		}
		if b.Start.Equal(start) && b.End.Equal(end) {
			out = b
			return nil
		}

		slot := booking.Slot{
			ServiceID:  b.ServiceID,
			StaffID:    b.StaffID,
			RoomID:     b.RoomID,
			Start:      start,
			End:        end,
			CustomerID: b.CustomerID,
			Notes:      b.Notes,
		}
		if err := l.repo.LockResources(ctx, q, lockKeys(b.StaffID, b.RoomID)...); err != nil {
			return err
		}
		if err := l.validator.Validate(ctx, q, slot, req, validator.Options{ExcludeBookingID: b.ID}); err != nil {
			return commitConflict(err)
		}
		updated, err := l.repo.UpdateTime(ctx, q, b.ID, start.UTC(), end.UTC())
		if err != nil {
			return err
		}
		if err := l.emit(ctx, q, EventRescheduled, b.ID, rescheduledPayload{
			Booking:       updated,
			PreviousStart: b.Start,
			PreviousEnd:   b.End,
			ActorID:       req.UserID,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		l.observeConflict(err)
		return booking.Booking{}, err
	}
	return out, nil
}

func (l *Ledger) UpdateStatus(ctx context.Context, id string, to booking.Status, req booking.Requester) (booking.Booking, error) {
	var out booking.Booking
	err := l.repo.InTx(ctx, func(q store.Querier) error {
		b, err := l.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if err := booking.CheckTransition(b, to, req); err != nil {
			return err
		}
		updated, err := l.repo.UpdateStatus(ctx, q, b.ID, to)
		if err != nil {
			return err
		}
		if err := l.repo.RecordStatusEvent(ctx, q, booking.StatusEvent{
			BookingID: b.ID,
			From:      string(b.Status),
			To:        string(to),
			ActorID:   req.UserID,
			ActorRole: string(req.Role),
		}); err != nil {
			return err
		}
		if err := l.emit(ctx, q, EventStatusChanged, b.ID, statusPayload{
			BookingID: b.ID,
			From:      b.Status,
			To:        to,
			ActorID:   req.UserID,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return booking.Booking{}, err
	}
	l.metrics.transitions.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

// Remove hard-deletes a booking. The status history keeps a "removed" row
// and the removal event carries the full snapshot.
func (l *Ledger) Remove(ctx context.Context, id string, req booking.Requester) error {
	if !req.Privileged() {
		return fmt.Errorf("%w: only staff or admin may remove bookings", booking.ErrForbidden)
	}
	err := l.repo.InTx(ctx, func(q store.Querier) error {
		b, err := l.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if err := l.repo.Delete(ctx, q, b.ID); err != nil {
			return err
		}
		if err := l.repo.RecordStatusEvent(ctx, q, booking.StatusEvent{
			BookingID: b.ID,
			From:      string(b.Status),
			To:        booking.StatusRemoved,
			ActorID:   req.UserID,
			ActorRole: string(req.Role),
		}); err != nil {
			return err
		}
		return l.emit(ctx, q, EventRemoved, b.ID, bookingPayload{Booking: b, ActorID: req.UserID})
	})
	if err != nil {
		return err
	}
	l.metrics.transitions.WithLabelValues(booking.StatusRemoved).Inc()
	l.logger.Info("booking removed", "booking_id", id, "actor_id", req.UserID)
	return nil
}

// Get hides other customers' bookings behind ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string, req booking.Requester) (booking.Booking, error) {
	b, err := l.repo.Get(ctx, l.repo.DB(), id)
	if err != nil {
		return booking.Booking{}, err
	}
	if !req.Privileged() && !req.Owns(b) {
		return booking.Booking{}, fmt.Errorf("%w: %s", booking.ErrNotFound, id)
	}
	return b, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// List returns bookings newest first. Customers only ever see their own.
func (l *Ledger) List(ctx context.Context, filter booking.ListFilter, req booking.Requester) ([]booking.Booking, error) {
	if !req.Privileged() {
		filter.CustomerID = req.UserID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return l.repo.List(ctx, l.repo.DB(), filter)
}

func (l *Ledger) BusyIntervals(ctx context.Context, kind booking.Kind, resourceID string, window availability.Interval) ([]availability.Interval, error) {
	if _, err := l.catalog.Lookup(ctx, kind, resourceID); err != nil {
		return nil, err
	}
	return l.index.BusyIntervals(ctx, l.repo.DB(), kind, resourceID, window, "")
}

// FreeSlots lists start times at which staffID can take serviceID inside window.
func (l *Ledger) FreeSlots(ctx context.Context, staffID, serviceID string, window availability.Interval, step time.Duration) ([]time.Time, error) {
	service, err := l.catalog.Lookup(ctx, booking.KindService, serviceID)
	if err != nil {
		return nil, err
	}
	if _, err := l.catalog.Lookup(ctx, booking.KindStaff, staffID); err != nil {
		return nil, err
	}
	if step <= 0 {
		step = service.Duration()
	}
	return l.index.FreeSlots(ctx, l.repo.DB(), staffID, window, service.Duration(), step, l.now())
}

func (l *Ledger) emit(ctx context.Context, q store.Querier, eventType, bookingID string, payload any) error {
	evt, err := outbox.NewEvent("booking", bookingID, eventType, payload)
	if err != nil {
		return err
	}
	return l.events.Insert(ctx, q, evt)
}

func (l *Ledger) observeConflict(err error) {
	if errors.Is(err, booking.ErrConflict) {
		l.metrics.conflicts.Inc()
		l.logger.Warn("booking commit lost race", "err", err)
	}
}

// ownSlot pins the customer: customers always book for themselves, staff and
// admin may name a customer.
func ownSlot(slot booking.Slot, req booking.Requester) booking.Slot {
	if !req.Privileged() || slot.CustomerID == "" {
		slot.CustomerID = req.UserID
	}
	return slot
}

// commitConflict turns a rejection seen under lock into a lost race.
func commitConflict(err error) error {
	if booking.IsValidation(err) {
		return errors.Join(booking.ErrConflict, err)
	}
	return err
}

// lockKeys returns the advisory lock keys in a fixed order so concurrent
// writers always acquire them in the same sequence.
func lockKeys(staffID, roomID string) []string {
	keys := []string{"staff:" + staffID}
	if roomID != "" {
		keys = append(keys, "room:"+roomID)
	}
	sort.Strings(keys)
	return keys
}

type bookingPayload struct {
	booking.Booking
	ActorID string `json:"actor_id"`
}

type rescheduledPayload struct {
	booking.Booking
	PreviousStart time.Time `json:"previous_start_time"`
	PreviousEnd   time.Time `json:"previous_end_time"`
	ActorID       string    `json:"actor_id"`
}

type statusPayload struct {
	BookingID string         `json:"booking_id"`
	From      booking.Status `json:"from"`
	To        booking.Status `json:"to"`
	ActorID   string         `json:"actor_id"`
}
