package booking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
)

func TestCheckTransition(t *testing.T) {
	customer := Requester{UserID: "c1", Role: auth.RoleCustomer}
	other := Requester{UserID: "c2", Role: auth.RoleCustomer}
	staff := Requester{UserID: "s1", Role: auth.RoleStaff}
	admin := Requester{UserID: "a1", Role: auth.RoleAdmin}

	cases := []struct {
		name string
		from Status
		to   Status
		req  Requester
		want error
	}{
		{"staff confirms", StatusPending, StatusConfirmed, staff, nil},
		{"customer cannot confirm", StatusPending, StatusConfirmed, customer, ErrForbidden},
		{"owner cancels pending", StatusPending, StatusCancelled, customer, nil},
		{"other customer cannot cancel", StatusPending, StatusCancelled, other, ErrForbidden},
		{"staff cancels pending", StatusPending, StatusCancelled, staff, nil},
		{"pending cannot complete", StatusPending, StatusCompleted, admin, ErrInvalidTransition},
		{"staff completes", StatusConfirmed, StatusCompleted, staff, nil},
		{"admin cancels confirmed", StatusConfirmed, StatusCancelled, admin, nil},
		{"owner cannot cancel confirmed", StatusConfirmed, StatusCancelled, customer, ErrForbidden},
		{"confirmed to pending undefined", StatusConfirmed, StatusPending, admin, ErrInvalidTransition},
		{"same status undefined", StatusPending, StatusPending, admin, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Booking{ID: "b1", CustomerID: "c1", Status: tc.from}
			err := CheckTransition(b, tc.to, tc.req)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTerminalStatusesRejectEveryTransition(t *testing.T) {
	admin := Requester{UserID: "a1", Role: auth.RoleAdmin}
	all := []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled}
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for _, to := range all {
			err := CheckTransition(Booking{ID: "b1", Status: from}, to, admin)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
		}
	}
}

func TestCodeAndRetryable(t *testing.T) {
	joined := errors.Join(ErrConflict, fmt.Errorf("%w: 10:00-11:00", ErrStaffConflict))
	if got := Code(joined); got != "conflict" {
		t.Fatalf("Code(joined) = %q", got)
	}
	if !errors.Is(joined, ErrStaffConflict) {
		t.Fatal("joined error should keep the reason")
	}
	if got := Code(fmt.Errorf("lookup: %w", ErrPastSlot)); got != "past_slot" {
		t.Fatalf("Code = %q", got)
	}
	if got := Code(errors.New("boom")); got != "internal" {
		t.Fatalf("Code = %q", got)
	}
	if !Retryable(fmt.Errorf("x: %w", ErrCatalogUnavailable)) || Retryable(ErrConflict) {
		t.Fatal("unexpected Retryable result")
	}
	if !IsValidation(ErrRoomConflict) || IsValidation(ErrConflict) {
		t.Fatal("unexpected IsValidation result")
	}
}

func TestParseKindAndStatus(t *testing.T) {
	for in, want := range map[string]Kind{"services": KindService, "staff": KindStaff, "Rooms": KindRoom, "room": KindRoom} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("desks"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !StatusCancelled.Terminal() || StatusConfirmed.Terminal() || StatusCancelled.Blocking() {
		t.Fatal("unexpected status predicates")
	}
}
