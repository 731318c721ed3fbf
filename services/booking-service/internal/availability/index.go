// Package availability derives busy intervals for staff and rooms from the
// bookings ledger. Nothing here is persisted; every call reads the ledger.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

// Source returns the non-cancelled bookings of one staff member or room that
// overlap window. A zero window means unbounded.
type Source interface {
	ActiveBookings(ctx context.Context, q store.Querier, kind booking.Kind, resourceID string, window Interval) ([]booking.Booking, error)
}

type Index struct {
	src Source
}

func NewIndex(src Source) *Index {
	return &Index{src: src}
}

// BusyIntervals returns the occupied ranges of a staff member or room inside
// window, sorted by start, read through q so a transaction sees its own
// snapshot. excludeBookingID drops one booking, used when rescheduling it.
//
// Staff intervals never overlap in a healthy ledger; an overlap is reported as
// ErrIntegrityViolation rather than merged. Room intervals may overlap.
func (x *Index) BusyIntervals(ctx context.Context, q store.Querier, kind booking.Kind, resourceID string, window Interval, excludeBookingID string) ([]Interval, error) {
	if kind != booking.KindStaff && kind != booking.KindRoom {
		return nil, fmt.Errorf("busy intervals: unsupported kind %q", kind)
	}
	rows, err := x.src.ActiveBookings(ctx, q, kind, resourceID, window)
	if err != nil {
		return nil, err
	}

	out := make([]Interval, 0, len(rows))
	for _, b := range rows {
		if b.ID == excludeBookingID || !b.Status.Blocking() {
			continue
		}
		out = append(out, Interval{Start: b.Start, End: b.End, BookingID: b.ID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].BookingID < out[j].BookingID
		}
		return out[i].Start.Before(out[j].Start)
	})

	if kind == booking.KindStaff {
		for i := 1; i < len(out); i++ {
			if out[i-1].Overlaps(out[i]) {
				return nil, fmt.Errorf("%w: staff %s bookings %s and %s overlap",
					booking.ErrIntegrityViolation, resourceID, out[i-1].BookingID, out[i].BookingID)
			}
		}
	}
	return out, nil
}

// FreeSlots lists start times in window at which staffID could take a booking
// of length duration, stepping by step and skipping starts before now.
func (x *Index) FreeSlots(ctx context.Context, q store.Querier, staffID string, window Interval, duration, step time.Duration, now time.Time) ([]time.Time, error) {
	busy, err := x.BusyIntervals(ctx, q, booking.KindStaff, staffID, window, "")
	if err != nil {
		return nil, err
	}
	return AvailableSlots(window.Start, window.End, duration, step, busy, now), nil
}
