package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/outbox"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/validator"
)

// memRepo is an in-memory ledger. Transactions are serialised by txMu, which
// stands in for the advisory locks, and roll back on error.
type memRepo struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	rows    map[string]booking.Booking
	history []booking.StatusEvent
	events  []outbox.Event
	barrier *sync.WaitGroup
	failEvt error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]booking.Booking{}}
}

func (r *memRepo) DB() store.Querier { return nil }

func (r *memRepo) InTx(_ context.Context, fn func(store.Querier) error) error {
	if r.barrier != nil {
		r.barrier.Done()
		r.barrier.Wait()
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	rows, history, events := maps.Clone(r.rows), slices.Clone(r.history), slices.Clone(r.events)
	r.mu.Unlock()

	if err := fn(nil); err != nil {
		r.mu.Lock()
		r.rows, r.history, r.events = rows, history, events
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) LockResources(context.Context, store.Querier, ...string) error { return nil }

func (r *memRepo) Insert(_ context.Context, _ store.Querier, b booking.Booking) (booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[b.ID]; ok {
		return booking.Booking{}, booking.ErrConflict
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.rows[b.ID] = b
	return b, nil
}

func (r *memRepo) Get(_ context.Context, _ store.Querier, id string) (booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return booking.Booking{}, fmt.Errorf("%w: %s", booking.ErrNotFound, id)
	}
	return b, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, q store.Querier, id string) (booking.Booking, error) {
	return r.Get(ctx, q, id)
}

func (r *memRepo) UpdateTime(_ context.Context, _ store.Querier, id string, start, end time.Time) (booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.rows[id]
	b.Start, b.End, b.UpdatedAt = start, end, time.Now()
	r.rows[id] = b
	return b, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, _ store.Querier, id string, status booking.Status) (booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.rows[id]
	b.Status, b.UpdatedAt = status, time.Now()
	r.rows[id] = b
	return b, nil
}

func (r *memRepo) Delete(_ context.Context, _ store.Querier, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memRepo) List(_ context.Context, _ store.Querier, f booking.ListFilter) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Booking
	for _, b := range r.rows {
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		if f.StaffID != "" && b.StaffID != f.StaffID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) RecordStatusEvent(_ context.Context, _ store.Querier, evt booking.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, evt)
	return nil
}

func (r *memRepo) ActiveBookings(_ context.Context, _ store.Querier, kind booking.Kind, id string, window availability.Interval) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.Booking
	for _, b := range r.rows {
		match := (kind == booking.KindStaff && b.StaffID == id) || (kind == booking.KindRoom && b.RoomID == id)
		if match && b.Status.Blocking() && (availability.Interval{Start: b.Start, End: b.End}).Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

// memEvents writes into the repo so events roll back with the transaction.
type memEvents struct{ repo *memRepo }

func (e memEvents) Insert(_ context.Context, _ store.Querier, evt outbox.Event) error {
	if e.repo.failEvt != nil {
		return e.repo.failEvt
	}
	e.repo.mu.Lock()
	defer e.repo.mu.Unlock()
	e.repo.events = append(e.repo.events, evt)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type staticCatalog map[booking.Kind][]booking.Resource

func (s staticCatalog) ListActive(_ context.Context, kind booking.Kind) ([]booking.Resource, error) {
	return s[kind], nil
}

func at(h, m int) time.Time {
	return time.Date(2030, 3, 4, h, m, 0, 0, time.UTC)
}

var (
	alice    = booking.Requester{UserID: "cust-alice", Role: auth.RoleCustomer}
	bobCust  = booking.Requester{UserID: "cust-bob", Role: auth.RoleCustomer}
	frontDsk = booking.Requester{UserID: "staff-1", Role: auth.RoleStaff}
	admin    = booking.Requester{UserID: "admin-1", Role: auth.RoleAdmin}
)

func newLedger(repo *memRepo) *Ledger {
	cat := catalog.New(staticCatalog{
		booking.KindService: {{ID: "massage", Kind: booking.KindService, Name: "Massage", DurationMinutes: 60, Active: true}},
		booking.KindStaff: {
			{ID: "therapist-1", Kind: booking.KindStaff, Name: "Alice", Active: true},
			{ID: "therapist-2", Kind: booking.KindStaff, Name: "Bea", Active: true},
		},
		booking.KindRoom: {{ID: "room-1", Kind: booking.KindRoom, Name: "Studio", Capacity: 2, Active: true}},
	})
	idx := availability.NewIndex(repo)
	v := validator.New(cat, idx).WithClock(func() time.Time { return at(8, 0) })
	l := New(Deps{Repo: repo, Validator: v, Index: idx, Catalog: cat, Events: memEvents{repo: repo}})
	l.now = func() time.Time { return at(8, 0) }
	return l
}

func massageSlot(start time.Time) booking.Slot {
	return booking.Slot{ServiceID: "massage", StaffID: "therapist-1", Start: start, End: start.Add(time.Hour)}
}

func TestCreate(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)

	slot := massageSlot(at(10, 0))
	slot.CustomerID = "someone-else"
	slot.Notes = "first visit"
	b, err := l.Create(context.Background(), slot, alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != booking.StatusPending || b.CustomerID != alice.UserID || b.Notes != "first visit" || b.ID == "" {
		t.Fatalf("unexpected booking %+v", b)
	}
	if got := repo.eventTypes(); len(got) != 1 || got[0] != EventCreated {
		t.Fatalf("expected one created event, got %v", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(repo.events[0].Payload, &payload); err != nil || payload["id"] != b.ID || payload["actor_id"] != alice.UserID {
		t.Fatalf("unexpected payload %s (%v)", repo.events[0].Payload, err)
	}

	onBehalf := massageSlot(at(12, 0))
	onBehalf.CustomerID = bobCust.UserID
	b2, err := l.Create(context.Background(), onBehalf, frontDsk)
	if err != nil || b2.CustomerID != bobCust.UserID {
		t.Fatalf("staff booking on behalf: %+v, %v", b2, err)
	}
}

func TestCreateReportsSpecificReasonBeforeCommit(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	if _, err := l.Create(context.Background(), massageSlot(at(10, 0)), alice); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := l.Create(context.Background(), massageSlot(at(10, 30)), bobCust)
	if !errors.Is(err, booking.ErrStaffConflict) || errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected plain ErrStaffConflict, got %v", err)
	}
	if _, err := l.Create(context.Background(), massageSlot(at(11, 0)), bobCust); err != nil {
		t.Fatalf("adjacent slot should be accepted: %v", err)
	}
}

func TestConcurrentCreatesExactlyOneWins(t *testing.T) {
	repo := newMemRepo()
	repo.barrier = &sync.WaitGroup{}
	repo.barrier.Add(2)
	l := newLedger(repo)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []booking.Requester{alice, bobCust} {
		wg.Add(1)
		go func(i int, req booking.Requester) {
			defer wg.Done()
			_, errs[i] = l.Create(context.Background(), massageSlot(at(10, 0)), req)
		}(i, req)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d (%v)", ok, conflicts, errs)
	}
	if len(repo.rows) != 1 || len(repo.eventTypes()) != 1 {
		t.Fatalf("loser must leave no trace: rows=%d events=%v", len(repo.rows), repo.eventTypes())
	}
}

func TestCreateRollsBackWhenEventFails(t *testing.T) {
	repo := newMemRepo()
	repo.failEvt = errors.New("outbox down")
	l := newLedger(repo)

	if _, err := l.Create(context.Background(), massageSlot(at(10, 0)), alice); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.rows) != 0 {
		t.Fatalf("booking committed without its event: %+v", repo.rows)
	}
}

func TestReschedule(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	ctx := context.Background()

	b, err := l.Create(ctx, massageSlot(at(10, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := l.Create(ctx, massageSlot(at(12, 0)), bobCust)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	before := maps.Clone(repo.rows)
	same, err := l.Reschedule(ctx, b.ID, b.Start, b.End, alice)
	if err != nil || !same.Start.Equal(b.Start) {
		t.Fatalf("no-op reschedule: %+v, %v", same, err)
	}
	if !maps.Equal(before, repo.rows) || len(repo.eventTypes()) != 2 {
		t.Fatal("no-op reschedule changed the ledger")
	}

	moved, err := l.Reschedule(ctx, b.ID, at(10, 30), at(11, 30), alice)
	if err != nil {
		t.Fatalf("overlapping its own old slot should be fine: %v", err)
	}
	if !moved.Start.Equal(at(10, 30)) {
		t.Fatalf("unexpected start %s", moved.Start)
	}

	_, err = l.Reschedule(ctx, b.ID, at(11, 30), at(12, 30), alice)
	if !errors.Is(err, booking.ErrConflict) || !errors.Is(err, booking.ErrStaffConflict) {
		t.Fatalf("expected ErrConflict joined with ErrStaffConflict, got %v", err)
	}
	if got, _ := repo.Get(ctx, nil, b.ID); !got.Start.Equal(at(10, 30)) {
		t.Fatalf("failed reschedule must leave the booking in place, got %s", got.Start)
	}

	if _, err := l.Reschedule(ctx, other.ID, at(14, 0), at(15, 0), alice); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("moving someone else's booking: expected ErrForbidden, got %v", err)
	}
	if _, err := l.Reschedule(ctx, "missing", at(14, 0), at(15, 0), admin); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := l.UpdateStatus(ctx, b.ID, booking.StatusConfirmed, frontDsk); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := l.Reschedule(ctx, b.ID, at(15, 0), at(16, 0), alice); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("customer moving a confirmed booking: expected ErrForbidden, got %v", err)
	}
	if _, err := l.Reschedule(ctx, b.ID, at(15, 0), at(16, 0), frontDsk); err != nil {
		t.Fatalf("staff may move confirmed bookings: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, b.ID, booking.StatusCompleted, frontDsk); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := l.Reschedule(ctx, b.ID, at(16, 0), at(17, 0), admin); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("terminal booking: expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	ctx := context.Background()

	b, err := l.Create(ctx, massageSlot(at(10, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, b.ID, booking.StatusConfirmed, alice); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("customer confirm: expected ErrForbidden, got %v", err)
	}
	if _, err := l.UpdateStatus(ctx, b.ID, booking.StatusConfirmed, frontDsk); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	done, err := l.UpdateStatus(ctx, b.ID, booking.StatusCompleted, frontDsk)
	if err != nil || done.Status != booking.StatusCompleted {
		t.Fatalf("complete: %+v, %v", done, err)
	}
	for _, to := range []booking.Status{booking.StatusPending, booking.StatusConfirmed, booking.StatusCancelled} {
		if _, err := l.UpdateStatus(ctx, b.ID, to, admin); !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("completed -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}

	if len(repo.history) != 2 || repo.history[0].To != "confirmed" || repo.history[1].From != "confirmed" || repo.history[1].ActorRole != "staff" {
		t.Fatalf("unexpected history %+v", repo.history)
	}
	want := []string{EventCreated, EventStatusChanged, EventStatusChanged}
	if got := repo.eventTypes(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	own, err := l.Create(ctx, massageSlot(at(13, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, own.ID, booking.StatusCancelled, bobCust); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("other customer cancel: expected ErrForbidden, got %v", err)
	}
	if _, err := l.UpdateStatus(ctx, own.ID, booking.StatusCancelled, alice); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	// The cancelled booking no longer blocks its slot.
	if _, err := l.Create(ctx, massageSlot(at(13, 0)), bobCust); err != nil {
		t.Fatalf("slot freed by cancellation should be bookable: %v", err)
	}
}

func TestRemove(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	ctx := context.Background()

	b, err := l.Create(ctx, massageSlot(at(10, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := l.Remove(ctx, b.ID, alice); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("customer remove: expected ErrForbidden, got %v", err)
	}
	if err := l.Remove(ctx, b.ID, admin); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := l.Get(ctx, b.ID, admin); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected removed booking to be gone, got %v", err)
	}
	last := repo.history[len(repo.history)-1]
	if last.To != booking.StatusRemoved || last.From != "pending" || last.ActorID != admin.UserID {
		t.Fatalf("unexpected history row %+v", last)
	}
	evt := repo.events[len(repo.events)-1]
	var snapshot booking.Booking
	if err := json.Unmarshal(evt.Payload, &snapshot); err != nil || evt.EventType != EventRemoved || snapshot.ID != b.ID || snapshot.StaffID != b.StaffID {
		t.Fatalf("removal event should carry the snapshot: %s %s (%v)", evt.EventType, evt.Payload, err)
	}
	if err := l.Remove(ctx, b.ID, admin); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestGetAndListScopeCustomers(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	ctx := context.Background()

	mine, err := l.Create(ctx, massageSlot(at(10, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	later, err := l.Create(ctx, massageSlot(at(14, 0)), alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	theirs, err := l.Create(ctx, massageSlot(at(12, 0)), bobCust)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := l.Get(ctx, theirs.ID, alice); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected other customer's booking to be hidden, got %v", err)
	}
	if _, err := l.Get(ctx, theirs.ID, frontDsk); err != nil {
		t.Fatalf("staff Get: %v", err)
	}

	list, err := l.List(ctx, booking.ListFilter{CustomerID: bobCust.UserID}, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != later.ID || list[1].ID != mine.ID {
		t.Fatalf("expected alice's bookings newest first, got %+v", list)
	}
	all, err := l.List(ctx, booking.ListFilter{}, admin)
	if err != nil || len(all) != 3 {
		t.Fatalf("admin List: %d, %v", len(all), err)
	}
}

func TestFreeSlotsAndBusyIntervals(t *testing.T) {
	repo := newMemRepo()
	l := newLedger(repo)
	ctx := context.Background()

	if _, err := l.Create(ctx, massageSlot(at(10, 0)), alice); err != nil {
		t.Fatalf("Create: %v", err)
	}
	window := availability.Interval{Start: at(9, 0), End: at(12, 0)}
	slots, err := l.FreeSlots(ctx, "therapist-1", "massage", window, 0)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 2 || !slots[0].Equal(at(9, 0)) || !slots[1].Equal(at(11, 0)) {
		t.Fatalf("unexpected slots %v", slots)
	}
	busy, err := l.BusyIntervals(ctx, booking.KindStaff, "therapist-1", window)
	if err != nil || len(busy) != 1 {
		t.Fatalf("BusyIntervals: %+v, %v", busy, err)
	}
	if _, err := l.BusyIntervals(ctx, booking.KindRoom, "attic", window); !errors.Is(err, booking.ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
}
