package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/identity"
)

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, identity.ErrUnavailable), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	switch {
	case status == http.StatusServiceUnavailable:
		h.logger.Warn("dependency unavailable", "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", "5")
		httpx.WriteError(w, status, code, "identity store unavailable")
		return
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, status, code, "internal error")
		return
	case status == http.StatusUnauthorized:
		httpx.WriteError(w, status, code, "invalid credentials or session")
		return
	}
	httpx.WriteError(w, status, code, err.Error())
}
