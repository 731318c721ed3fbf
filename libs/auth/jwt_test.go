package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", RoleStaff, "sess-1", time.Now(), time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.Role != RoleStaff || parsed.SessionID != "sess-1" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
}

func TestExpiredAndUnknownRoleRejected(t *testing.T) {
	expired := NewClaims("user-1", RoleCustomer, "", time.Now().Add(-2*time.Hour), time.Hour)
	token, err := SignHS256(expired, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	owner := NewClaims("user-1", Role("owner"), "", time.Now(), time.Hour)
	token, err = SignHS256(owner, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown role to be rejected, got %v", err)
	}
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	claims := NewClaims("user-2", RoleAdmin, "sess-2", time.Now(), time.Hour)

	token, err := SignRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}
	parsed, err := VerifyRS256(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.Subject != "user-2" || parsed.Role != RoleAdmin {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	// An RS256 token must not verify as HS256 even with the public key bytes as secret.
	if _, err := ParseAndVerifyHS256(token, "kid-1"); err == nil {
		t.Fatal("expected algorithm mismatch to fail")
	}
}

func TestVerifierWithJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	kid := KeyID(&key.PublicKey)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(JWKSet{Keys: []JWK{PublicJWK(&key.PublicKey, kid)}})
	}))
	defer srv.Close()

	v := NewVerifier("hs-secret", NewJWKSClient(srv.URL, time.Minute))

	rsToken, err := SignRS256(NewClaims("user-3", RoleCustomer, "s3", time.Now(), time.Hour), key, kid)
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}
	if claims, err := v.Verify(rsToken); err != nil || claims.Subject != "user-3" {
		t.Fatalf("RS256 verify via jwks: claims=%+v err=%v", claims, err)
	}

	hsToken, err := SignHS256(NewClaims("user-4", RoleStaff, "s4", time.Now(), time.Hour), "hs-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if claims, err := v.Verify(hsToken); err != nil || claims.Role != RoleStaff {
		t.Fatalf("HS256 verify: claims=%+v err=%v", claims, err)
	}

	unknownKid, err := SignRS256(NewClaims("user-5", RoleCustomer, "", time.Now(), time.Hour), key, "other")
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}
	if _, err := v.Verify(unknownKid); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Admin "); err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if RoleCustomer.Privileged() || !RoleStaff.Privileged() || !RoleAdmin.Privileged() {
		t.Fatal("unexpected privilege mapping")
	}
}

func TestSessionActionEnds(t *testing.T) {
	for _, a := range []SessionAction{SessionSignedOut, SessionRoleChanged} {
		if !a.Ends() {
			t.Fatalf("%s should end the session", a)
		}
	}
	for _, a := range []SessionAction{SessionSignedIn, SessionRefreshed} {
		if a.Ends() {
			t.Fatalf("%s should not end the session", a)
		}
	}
}
