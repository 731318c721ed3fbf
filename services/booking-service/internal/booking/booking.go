// Package booking holds the scheduling domain types shared by the catalog,
// availability, validation, ledger and projection packages.
package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Blocking reports whether a booking in this status occupies its staff and room.
func (s Status) Blocking() bool {
	return s != StatusCancelled
}

type Kind string

const (
	KindService Kind = "service"
	KindStaff   Kind = "staff"
	KindRoom    Kind = "room"
)

// ParseKind accepts the singular or plural form used in URLs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "service", "services":
		return KindService, nil
	case "staff":
		return KindStaff, nil
	case "room", "rooms":
		return KindRoom, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

// Resource is a service, staff member or room. Only the fields of its kind are set.
type Resource struct {
	ID              string  `json:"id"`
	Kind            Kind    `json:"kind"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	BasePrice       float64 `json:"base_price,omitempty"`
	Category        string  `json:"category,omitempty"`
	Description     string  `json:"description,omitempty"`
	Role            string  `json:"role,omitempty"`
	Capacity        int     `json:"capacity,omitempty"`
	RoomType        string  `json:"room_type,omitempty"`
	Active          bool    `json:"is_active"`
}

func (r Resource) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

type Booking struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id"`
	RoomID     string    `json:"room_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
	Status     Status    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Slot is a proposed booking. It is never stored unless accepted.
type Slot struct {
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id"`
	RoomID     string    `json:"room_id,omitempty"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
	CustomerID string    `json:"customer_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Requester is the caller as resolved by the gateway from its session.
type Requester struct {
	UserID    string
	Role      auth.Role
	SessionID string
}

func (r Requester) Privileged() bool {
	return r.Role.Privileged()
}

func (r Requester) Owns(b Booking) bool {
	return r.UserID != "" && r.UserID == b.CustomerID
}

// ListFilter narrows a booking listing. Zero fields do not filter.
type ListFilter struct {
	StaffID    string
	RoomID     string
	CustomerID string
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
}

// StatusEvent is one row of a booking's status history. To is "removed" for
// hard deletes.
type StatusEvent struct {
	BookingID string
	From      string
	To        string
	ActorID   string
	ActorRole string
}

// StatusRemoved marks a hard delete in the status history.
const StatusRemoved = "removed"
