// Package projector turns ledger rows into calendar events. Project is pure;
// Projector.Calendar rebuilds the view from the ledger on every call.
package projector

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

const UntitledBooking = "Untitled Booking"

// Row is a booking joined with the names of the resources it references.
// A nil name means the join found nothing.
type Row struct {
	ID          string    `db:"id"`
	ServiceID   string    `db:"service_id"`
	StaffID     string    `db:"staff_id"`
	RoomID      *string   `db:"room_id"`
	CustomerID  string    `db:"customer_id"`
	StartTime   time.Time `db:"start_time"`
	EndTime     time.Time `db:"end_time"`
	Status      string    `db:"status"`
	Notes       string    `db:"notes"`
	ServiceName *string   `db:"service_name"`
	StaffName   *string   `db:"staff_name"`
	RoomName    *string   `db:"room_name"`
}

type ResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ResourceRefs struct {
	Service ResourceRef  `json:"service"`
	Staff   ResourceRef  `json:"staff"`
	Room    *ResourceRef `json:"room,omitempty"`
}

type CalendarEvent struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Status     booking.Status `json:"status"`
	CustomerID string         `json:"customer_id,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Resources  ResourceRefs   `json:"resources"`
	// Partial is set when a referenced resource could not be resolved;
	// Missing names which ones.
	Partial bool     `json:"partial,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Rejection is a row that could not be turned into an event.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type Projection struct {
	Events   []CalendarEvent `json:"events"`
	Rejected []Rejection     `json:"rejected,omitempty"`
}

// Project maps rows to events in input order. Malformed rows land in Rejected.
func Project(rows []Row) Projection {
	p := Projection{Events: make([]CalendarEvent, 0, len(rows))}
	for _, r := range rows {
		evt, err := decode(r)
		if err != nil {
			p.Rejected = append(p.Rejected, Rejection{ID: r.ID, Reason: err.Error()})
			continue
		}
		p.Events = append(p.Events, evt)
	}
	return p
}

func decode(r Row) (CalendarEvent, error) {
	status, err := booking.ParseStatus(r.Status)
	if err != nil {
		return CalendarEvent{}, err
	}
	if !r.EndTime.After(r.StartTime) {
		return CalendarEvent{}, fmt.Errorf("end %s is not after start %s",
			r.EndTime.Format(time.RFC3339), r.StartTime.Format(time.RFC3339))
	}

	evt := CalendarEvent{
		ID:         r.ID,
		Title:      UntitledBooking,
		Start:      r.StartTime,
		End:        r.EndTime,
		Status:     status,
		CustomerID: r.CustomerID,
		Notes:      r.Notes,
		Resources: ResourceRefs{
			Service: ResourceRef{ID: r.ServiceID},
			Staff:   ResourceRef{ID: r.StaffID},
		},
	}
	if r.ServiceName != nil {
		evt.Title = *r.ServiceName
		evt.Resources.Service.Name = *r.ServiceName
	} else {
		evt.Missing = append(evt.Missing, "service")
	}
	if r.StaffName != nil {
		evt.Resources.Staff.Name = *r.StaffName
	} else {
		evt.Missing = append(evt.Missing, "staff")
	}
	if r.RoomID != nil && *r.RoomID != "" {
		evt.Resources.Room = &ResourceRef{ID: *r.RoomID}
		if r.RoomName != nil {
			evt.Resources.Room.Name = *r.RoomName
		} else {
			evt.Missing = append(evt.Missing, "room")
		}
	}
	evt.Partial = len(evt.Missing) > 0
	return evt, nil
}

type Source interface {
	CalendarRows(ctx context.Context, window availability.Interval) ([]Row, error)
}

type Projector struct {
	src Source
}

func New(src Source) *Projector {
	return &Projector{src: src}
}

// Calendar projects every booking overlapping window, ordered by start.
// Customers see other customers' bookings without customer or notes.
func (p *Projector) Calendar(ctx context.Context, window availability.Interval, req booking.Requester) (Projection, error) {
	rows, err := p.src.CalendarRows(ctx, window)
	if err != nil {
		return Projection{}, err
	}
	out := Project(rows)
	if req.Privileged() {
		return out, nil
	}
	for i := range out.Events {
		if out.Events[i].CustomerID != req.UserID {
			out.Events[i].CustomerID = ""
			out.Events[i].Notes = ""
		}
	}
	return out, nil
}
