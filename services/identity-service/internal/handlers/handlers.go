package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/audit"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/identity"
)

type Identity interface {
	SignUp(ctx context.Context, in identity.SignUpInput) (identity.User, identity.Tokens, error)
	SignIn(ctx context.Context, email, password string) (identity.Tokens, error)
	Refresh(ctx context.Context, rawRefresh string) (identity.Tokens, error)
	SignOut(ctx context.Context, rawRefresh string) error
	Session(ctx context.Context, accessToken string) (identity.User, *auth.Claims, error)
	CompleteProfile(ctx context.Context, userID, fullName, phone string) (identity.User, error)
	AssignRole(ctx context.Context, actorID string, actorRole auth.Role, userID string, role auth.Role) (identity.User, error)
}

type Keys interface {
	JWKS() auth.JWKSet
}

// KeyRotator is implemented by signers that hold more than one key.
type KeyRotator interface {
	SetActive(kid string) error
}

type AuditLog interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Handler struct {
	identity Identity
	keys     Keys
	audit    AuditLog
	logger   *slog.Logger
}

func New(svc Identity, keys Keys, auditLog AuditLog, logger *slog.Logger) *Handler {
	return &Handler{identity: svc, keys: keys, audit: auditLog, logger: logger}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/.well-known/jwks.json", h.JWKS).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/auth").Subrouter()
	api.HandleFunc("/signup", h.SignUp).Methods(http.MethodPost)
	api.HandleFunc("/signin", h.SignIn).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/signout", h.SignOut).Methods(http.MethodPost)
	api.HandleFunc("/session", h.Session).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.authed(h.CompleteProfile)).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}/role", h.authed(h.AssignRole)).Methods(http.MethodPut)
	api.HandleFunc("/keys/active", h.authed(h.RotateKey)).Methods(http.MethodPut)
	api.HandleFunc("/audit", h.authed(h.Audit)).Methods(http.MethodGet)
}

func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type caller struct {
	UserID string
	Role   auth.Role
}

type callerHandler func(w http.ResponseWriter, r *http.Request, c caller)

// authed trusts the identity headers set by the gateway.
func (h *Handler) authed(next callerHandler) http.HandlerFunc {
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
		next(w, r, caller{UserID: id.UserID, Role: role})
	}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type signUpResponse struct {
	User identity.User `json:"user"`
	identity.Tokens
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	user, tokens, err := h.identity.SignUp(r.Context(), identity.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, signUpResponse{User: user, Tokens: tokens})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "email and password required")
		return
	}
	tokens, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) decodeRefresh(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return "", false
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "refresh_token required")
		return "", false
	}
	return raw, true
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.decodeRefresh(w, r)
	if !ok {
		return
	}
	tokens, err := h.identity.Refresh(r.Context(), raw)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.decodeRefresh(w, r)
	if !ok {
		return
	}
	if err := h.identity.SignOut(r.Context(), raw); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	User            identity.User `json:"user"`
	SessionID       string        `json:"session_id"`
	ProfileComplete bool          `json:"profile_complete"`
	ExpiresAt       int64         `json:"expires_at"`
}

// Session resolves the bearer token itself so it also works without the gateway.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid Authorization header")
		return
	}
	user, claims, err := h.identity.Session(r.Context(), token)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	resp := sessionResponse{User: user, SessionID: claims.SessionID, ProfileComplete: user.ProfileComplete()}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

type profileRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (h *Handler) CompleteProfile(w http.ResponseWriter, r *http.Request, c caller) {
	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	user, err := h.identity.CompleteProfile(r.Context(), c.UserID, req.FullName, req.Phone)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request, c caller) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	user, err := h.identity.AssignRole(r.Context(), c.UserID, c.Role, mux.Vars(r)["id"], role)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set := h.keys.JWKS()
	if len(set.Keys) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "jwks not available")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, set)
}

type rotateRequest struct {
	ActiveKid string `json:"active_kid"`
}

// RotateKey switches the signing key. Keys already published in the JWKS keep
// verifying, so tokens issued under the old kid stay valid until they expire.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request, c caller) {
	if c.Role != auth.RoleAdmin {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "admin only")
		return
	}
	rotator, ok := h.keys.(KeyRotator)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "rotation not enabled")
		return
	}
	var req rotateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ActiveKid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "active_kid is required")
		return
	}
	if err := rotator.SetActive(req.ActiveKid); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.logger.Info("signing key rotated", "kid", req.ActiveKid, "actor_id", c.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request, c caller) {
	if c.Role != auth.RoleAdmin {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "admin only")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		limit = n
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeErr(w, r, errors.Join(identity.ErrUnavailable, err))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": events})
}
