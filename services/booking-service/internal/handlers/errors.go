package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

const retryAfterSeconds = "5"

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrConflict),
		errors.Is(err, booking.ErrStaffConflict),
		errors.Is(err, booking.ErrRoomConflict),
		errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, booking.ErrUnknownResource),
		errors.Is(err, booking.ErrDurationMismatch),
		errors.Is(err, booking.ErrPastSlot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case booking.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		h.logger.Warn("dependency unavailable", "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", retryAfterSeconds)
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, status, booking.Code(err), "internal error")
		return
	}
	httpx.WriteError(w, status, booking.Code(err), err.Error())
}
