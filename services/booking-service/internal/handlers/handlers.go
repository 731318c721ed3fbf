package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/projector"
)

type Ledger interface {
	Validate(ctx context.Context, slot booking.Slot, req booking.Requester) error
	Create(ctx context.Context, slot booking.Slot, req booking.Requester) (booking.Booking, error)
	Reschedule(ctx context.Context, id string, start, end time.Time, req booking.Requester) (booking.Booking, error)
	UpdateStatus(ctx context.Context, id string, to booking.Status, req booking.Requester) (booking.Booking, error)
	Remove(ctx context.Context, id string, req booking.Requester) error
	Get(ctx context.Context, id string, req booking.Requester) (booking.Booking, error)
	List(ctx context.Context, filter booking.ListFilter, req booking.Requester) ([]booking.Booking, error)
	BusyIntervals(ctx context.Context, kind booking.Kind, resourceID string, window availability.Interval) ([]availability.Interval, error)
	FreeSlots(ctx context.Context, staffID, serviceID string, window availability.Interval, step time.Duration) ([]time.Time, error)
}

type Catalog interface {
	ListActive(ctx context.Context, kind booking.Kind) ([]booking.Resource, error)
}

type Calendar interface {
	Calendar(ctx context.Context, window availability.Interval, req booking.Requester) (projector.Projection, error)
}

type Handler struct {
	ledger   Ledger
	catalog  Catalog
	calendar Calendar
	logger   *slog.Logger
}

func New(ledger Ledger, catalog Catalog, calendar Calendar, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, catalog: catalog, calendar: calendar, logger: logger}
}

// Register mounts the booking API on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/catalog/{kind}", h.ListCatalog).Methods(http.MethodGet)
	api.HandleFunc("/slots/validate", h.authed(h.ValidateSlot)).Methods(http.MethodPost)
	api.HandleFunc("/slots/free", h.authed(h.FreeSlots)).Methods(http.MethodGet)
	api.HandleFunc("/availability/{kind}/{id}", h.authed(h.Availability)).Methods(http.MethodGet)
	api.HandleFunc("/bookings", h.authed(h.CreateBooking)).Methods(http.MethodPost)
	api.HandleFunc("/bookings", h.authed(h.ListBookings)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", h.authed(h.GetBooking)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", h.authed(h.RemoveBooking)).Methods(http.MethodDelete)
	api.HandleFunc("/bookings/{id}/time", h.authed(h.RescheduleBooking)).Methods(http.MethodPatch)
	api.HandleFunc("/bookings/{id}/status", h.authed(h.UpdateStatus)).Methods(http.MethodPatch)
	api.HandleFunc("/calendar", h.authed(h.Calendar)).Methods(http.MethodGet)
}

// RouteTemplate labels metrics with the matched route rather than the raw path.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type requesterHandler func(w http.ResponseWriter, r *http.Request, req booking.Requester)

// authed resolves the requester from the identity headers set by the gateway.
func (h *Handler) authed(next requesterHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpx.IdentityFromRequest(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
			return
		}
		role, err := auth.ParseRole(id.Role)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		next(w, r, booking.Requester{UserID: id.UserID, Role: role, SessionID: id.SessionID})
	}
}

func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	kind, err := booking.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	items, err := h.catalog.ListActive(r.Context(), kind)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if items == nil {
		items = []booking.Resource{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type slotRequest struct {
	ServiceID  string `json:"service_id"`
	StaffID    string `json:"staff_id"`
	RoomID     string `json:"room_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	CustomerID string `json:"customer_id"`
	Notes      string `json:"notes"`
}

func (s slotRequest) toSlot() (booking.Slot, error) {
	slot := booking.Slot{
		ServiceID:  strings.TrimSpace(s.ServiceID),
		StaffID:    strings.TrimSpace(s.StaffID),
		RoomID:     strings.TrimSpace(s.RoomID),
		CustomerID: strings.TrimSpace(s.CustomerID),
		Notes:      strings.TrimSpace(s.Notes),
	}
	if slot.ServiceID == "" || slot.StaffID == "" {
		return booking.Slot{}, errors.New("service_id and staff_id are required")
	}
	var err error
	if slot.Start, err = parseTime("start_time", s.StartTime); err != nil {
		return booking.Slot{}, err
	}
	if slot.End, err = parseTime("end_time", s.EndTime); err != nil {
		return booking.Slot{}, err
	}
	return slot, nil
}

type validateResponse struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) ValidateSlot(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	slot, ok := decodeSlot(w, r)
	if !ok {
		return
	}
	err := h.ledger.Validate(r.Context(), slot, req)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, validateResponse{OK: true})
	case booking.IsValidation(err):
		httpx.WriteJSON(w, http.StatusOK, validateResponse{Reason: booking.Code(err), Message: err.Error()})
	default:
		h.writeErr(w, r, err)
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	slot, ok := decodeSlot(w, r)
	if !ok {
		return
	}
	b, err := h.ledger.Create(r.Context(), slot, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, b)
}

func decodeSlot(w http.ResponseWriter, r *http.Request) (booking.Slot, bool) {
	var body slotRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return booking.Slot{}, false
	}
	slot, err := body.toSlot()
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return booking.Slot{}, false
	}
	return slot, true
}

func (h *Handler) FreeSlots(w http.ResponseWriter, r *http.Request, _ booking.Requester) {
	q := r.URL.Query()
	staffID, serviceID := strings.TrimSpace(q.Get("staff_id")), strings.TrimSpace(q.Get("service_id"))
	if staffID == "" || serviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "staff_id and service_id are required")
		return
	}
	window, err := parseWindow(q.Get("from"), q.Get("to"), true)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var step time.Duration
	if raw := q.Get("step_minutes"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid step_minutes")
			return
		}
		step = time.Duration(mins) * time.Minute
	}

	slots, err := h.ledger.FreeSlots(r.Context(), staffID, serviceID, window, step)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.UTC().Format(time.RFC3339))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}

type intervalItem struct {
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	BookingID string    `json:"booking_id"`
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request, _ booking.Requester) {
	vars := mux.Vars(r)
	kind, err := booking.ParseKind(vars["kind"])
	if err != nil || kind == booking.KindService {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "availability is tracked for staff and rooms")
		return
	}
	window, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"), true)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	busy, err := h.ledger.BusyIntervals(r.Context(), kind, vars["id"], window)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]intervalItem, 0, len(busy))
	for _, b := range busy {
		out = append(out, intervalItem{Start: b.Start, End: b.End, BookingID: b.BookingID})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"busy": out})
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	q := r.URL.Query()
	filter := booking.ListFilter{
		StaffID:    q.Get("staff_id"),
		RoomID:     q.Get("room_id"),
		CustomerID: q.Get("customer_id"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := booking.ParseStatus(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter.Status = status
	}
	window, err := parseWindow(q.Get("from"), q.Get("to"), false)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filter.From, filter.To = window.Start, window.End
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		filter.Limit = limit
	}

	items, err := h.ledger.List(r.Context(), filter, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if items == nil {
		items = []booking.Booking{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.ledger.Get(r.Context(), id, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var body rescheduleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start, err := parseTime("start_time", body.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	end, err := parseTime("end_time", body.EndTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b, err := h.ledger.Reschedule(r.Context(), id, start, end, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var body statusRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := booking.ParseStatus(body.Status)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b, err := h.ledger.UpdateStatus(r.Context(), id, to, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) RemoveBooking(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Remove(r.Context(), id, req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request, req booking.Requester) {
	window, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"), false)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := h.calendar.Calendar(r.Context(), window, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// bookingID rejects ids that cannot name a booking as not found.
func bookingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		httpx.WriteError(w, http.StatusNotFound, booking.Code(booking.ErrNotFound), "booking not found")
		return "", false
	}
	return id, true
}

func parseTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errors.New("invalid " + field + ": expected RFC3339")
	}
	return t, nil
}

func parseWindow(from, to string, required bool) (availability.Interval, error) {
	var w availability.Interval
	if from == "" && to == "" && !required {
		return w, nil
	}
	var err error
	if w.Start, err = parseTime("from", from); err != nil {
		return w, err
	}
	if w.End, err = parseTime("to", to); err != nil {
		return w, err
	}
	if !w.End.After(w.Start) {
		return w, errors.New("to must be after from")
	}
	return w, nil
}
