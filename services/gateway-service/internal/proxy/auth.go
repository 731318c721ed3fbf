// Package proxy authenticates requests at the edge and forwards the caller's
// identity to downstream services as trusted headers.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/gateway-service/internal/session"
)

var (
	errMissingToken   = errors.New("missing or invalid Authorization header")
	errSessionRevoked = errors.New("session revoked")
)

type Authenticator struct {
	verifier    auth.Verifier
	revocations session.Revocations
	logger      *slog.Logger
}

func NewAuthenticator(verifier auth.Verifier, revocations session.Revocations, logger *slog.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, revocations: revocations, logger: logger}
}

// Require rejects requests without a valid, unrevoked access token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.StripIdentity(r.Header)
		id, err := a.resolve(r.Context(), r)
		if err != nil {
			a.reject(w, err)
			return
		}
		httpx.SetIdentity(r.Header, id)
		next.ServeHTTP(w, r)
	})
}

// Optional forwards anonymous requests unchanged and attaches the identity
// when a usable token is present. Downstream routes decide what needs one.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.StripIdentity(r.Header)
		if id, err := a.resolve(r.Context(), r); err == nil {
			httpx.SetIdentity(r.Header, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) resolve(ctx context.Context, r *http.Request) (httpx.Identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return httpx.Identity{}, errMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return httpx.Identity{}, errMissingToken
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return httpx.Identity{}, err
	}
	if claims.SessionID != "" && a.revocations != nil {
		revoked, err := a.revocations.Revoked(ctx, claims.SessionID)
		if err != nil {
			return httpx.Identity{}, err
		}
		if revoked {
			return httpx.Identity{}, errSessionRevoked
		}
	}
	return httpx.Identity{UserID: claims.Subject, Role: string(claims.Role), SessionID: claims.SessionID}, nil
}

func (a *Authenticator) reject(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingToken):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
	case errors.Is(err, errSessionRevoked):
		httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", err.Error())
	default:
		a.logger.Warn("session check unavailable", "err", err)
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "session check unavailable")
	}
}

// RequireRole allows only the listed roles. It must run after Require.
func RequireRole(next http.Handler, roles ...auth.Role) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[string(r)] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(httpx.HeaderRole)]; !ok {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
