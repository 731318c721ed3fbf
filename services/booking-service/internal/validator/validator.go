// Package validator decides whether a proposed slot can be booked against the
// current ledger. It has no side effects.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

type Catalog interface {
	Lookup(ctx context.Context, kind booking.Kind, id string) (booking.Resource, error)
}

type BusyIndex interface {
	BusyIntervals(ctx context.Context, q store.Querier, kind booking.Kind, resourceID string, window availability.Interval, excludeBookingID string) ([]availability.Interval, error)
}

type Options struct {
	// ExcludeBookingID leaves one booking out of the busy sets, so a booking
	// being rescheduled does not conflict with itself.
	ExcludeBookingID string
}

type Validator struct {
	catalog Catalog
	index   BusyIndex
	now     func() time.Time
}

func New(catalog Catalog, index BusyIndex) *Validator {
	return &Validator{catalog: catalog, index: index, now: time.Now}
}

// WithClock replaces the request-time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate runs the checks in order and returns the first failure, or nil.
// Ledger reads go through q, so inside a transaction the checks see that
// transaction's view.
func (v *Validator) Validate(ctx context.Context, q store.Querier, slot booking.Slot, req booking.Requester, opts Options) error {
	service, room, err := v.resources(ctx, slot)
	if err != nil {
		return err
	}

	if !slot.End.After(slot.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", booking.ErrDurationMismatch,
			slot.End.Format(time.RFC3339), slot.Start.Format(time.RFC3339))
	}
	if got := slot.End.Sub(slot.Start); got != service.Duration() && !req.Privileged() {
		return fmt.Errorf("%w: %s takes %s, slot is %s", booking.ErrDurationMismatch, service.Name, service.Duration(), got)
	}

	proposed := availability.Interval{Start: slot.Start, End: slot.End}

	staffBusy, err := v.index.BusyIntervals(ctx, q, booking.KindStaff, slot.StaffID, proposed, opts.ExcludeBookingID)
	if err != nil {
		return err
	}
	for _, b := range staffBusy {
		if b.Overlaps(proposed) {
			return fmt.Errorf("%w: staff %s booked %s-%s", booking.ErrStaffConflict, slot.StaffID,
				b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339))
		}
	}

	if room != nil {
		roomBusy, err := v.index.BusyIntervals(ctx, q, booking.KindRoom, room.ID, proposed, opts.ExcludeBookingID)
		if err != nil {
			return err
		}
		if peak := availability.PeakConcurrency(roomBusy, proposed); peak > room.Capacity {
			return fmt.Errorf("%w: room %s holds %d, %d already booked", booking.ErrRoomConflict, room.Name, room.Capacity, peak)
		}
	}

	if !req.Privileged() && slot.Start.Before(v.now()) {
		return fmt.Errorf("%w: %s", booking.ErrPastSlot, slot.Start.Format(time.RFC3339))
	}
	return nil
}

func (v *Validator) resources(ctx context.Context, slot booking.Slot) (booking.Resource, *booking.Resource, error) {
	service, err := v.catalog.Lookup(ctx, booking.KindService, slot.ServiceID)
	if err != nil {
		return booking.Resource{}, nil, err
	}
	if _, err := v.catalog.Lookup(ctx, booking.KindStaff, slot.StaffID); err != nil {
		return booking.Resource{}, nil, err
	}
	if slot.RoomID == "" {
		return service, nil, nil
	}
	room, err := v.catalog.Lookup(ctx, booking.KindRoom, slot.RoomID)
	if err != nil {
		return booking.Resource{}, nil, err
	}
	return service, &room, nil
}
