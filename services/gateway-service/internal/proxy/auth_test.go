package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/gateway-service/internal/session"
)

const secret = "gateway-test-secret"

func token(t *testing.T, sub string, role auth.Role, sid string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims(sub, role, sid, time.Now(), time.Hour), secret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	return tok
}

type brokenRevocations struct{}

func (brokenRevocations) Revoke(context.Context, string) error { return nil }
func (brokenRevocations) Revoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := httpx.IdentityFromRequest(r)
		w.Header().Set("X-Seen-User", id.UserID)
		w.Header().Set("X-Seen-Role", id.Role)
		w.Header().Set("X-Seen-Session", id.SessionID)
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, bearer string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/bookings", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newAuthenticator(rev session.Revocations) *Authenticator {
	return NewAuthenticator(auth.NewVerifier(secret, nil), rev, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRequireSetsTrustedIdentity(t *testing.T) {
	a := newAuthenticator(session.NewMemoryRevocations(time.Hour))
	h := a.Require(echoIdentity())

	rec := serve(h, token(t, "u1", auth.RoleStaff, "s1"), map[string]string{httpx.HeaderUserID: "spoofed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Seen-User") != "u1" || rec.Header().Get("X-Seen-Role") != "staff" || rec.Header().Get("X-Seen-Session") != "s1" {
		t.Fatalf("forwarded identity = %v", rec.Header())
	}

	if rec := serve(h, "", map[string]string{httpx.HeaderUserID: "spoofed", httpx.HeaderRole: "admin"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("spoofed headers without token: status = %d", rec.Code)
	}
	if rec := serve(h, "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
}

func TestRequireRejectsRevokedSession(t *testing.T) {
	rev := session.NewMemoryRevocations(time.Hour)
	h := newAuthenticator(rev).Require(echoIdentity())
	tok := token(t, "u1", auth.RoleCustomer, "s1")

	if err := rev.Revoke(context.Background(), "s1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	rec := serve(h, tok, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	if rec := serve(newAuthenticator(brokenRevocations{}).Require(echoIdentity()), tok, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("revocation store down: status = %d", rec.Code)
	}
}

func TestOptionalForwardsAnonymous(t *testing.T) {
	rev := session.NewMemoryRevocations(time.Hour)
	h := newAuthenticator(rev).Optional(echoIdentity())

	rec := serve(h, "", map[string]string{httpx.HeaderUserID: "spoofed"})
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-User") != "" {
		t.Fatalf("anonymous: status = %d user = %q", rec.Code, rec.Header().Get("X-Seen-User"))
	}
	rec = serve(h, token(t, "u2", auth.RoleAdmin, "s2"), nil)
	if rec.Header().Get("X-Seen-User") != "u2" {
		t.Fatalf("user = %q", rec.Header().Get("X-Seen-User"))
	}
	_ = rev.Revoke(context.Background(), "s2")
	rec = serve(h, token(t, "u2", auth.RoleAdmin, "s2"), nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-User") != "" {
		t.Fatalf("revoked token should be forwarded anonymously, user = %q", rec.Header().Get("X-Seen-User"))
	}
}

func TestRequireRole(t *testing.T) {
	a := newAuthenticator(nil)
	h := a.Require(RequireRole(echoIdentity(), auth.RoleAdmin))

	if rec := serve(h, token(t, "u1", auth.RoleStaff, ""), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff: status = %d", rec.Code)
	}
	if rec := serve(h, token(t, "u1", auth.RoleAdmin, ""), nil); rec.Code != http.StatusOK {
		t.Fatalf("admin: status = %d", rec.Code)
	}
}

func TestReverseProxyMapsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}))
	target, _ := url.Parse(upstream.URL)
	p := NewReverseProxy(target, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/calendar", nil))
	if rec.Code != http.StatusTeapot || rec.Header().Get("X-Upstream-Path") != "/api/v1/calendar" {
		t.Fatalf("proxied: status = %d path = %q", rec.Code, rec.Header().Get("X-Upstream-Path"))
	}

	upstream.Close()
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/calendar", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("closed upstream: status = %d", rec.Code)
	}
}
