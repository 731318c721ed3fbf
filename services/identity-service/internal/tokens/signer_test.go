package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	return key
}

func TestHS256Signer(t *testing.T) {
	s := NewHS256Signer("secret")
	token, err := s.Sign(auth.NewClaims("u1", auth.RoleCustomer, "s1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := s.Verify(token)
	if err != nil || claims.Subject != "u1" || claims.SessionID != "s1" {
		t.Fatalf("Verify: %+v, %v", claims, err)
	}
	if len(s.JWKS().Keys) != 0 {
		t.Fatal("HS256 must not publish keys")
	}
}

func TestKeySetRotation(t *testing.T) {
	a, b := genKey(t), genKey(t)
	kidA, kidB := auth.KeyID(&a.PublicKey), auth.KeyID(&b.PublicKey)
	ks, err := NewKeySet([]*rsa.PrivateKey{a, b}, kidA)
	if err != nil {
		t.Fatalf("NewKeySet failed: %v", err)
	}

	old, err := ks.Sign(auth.NewClaims("u1", auth.RoleStaff, "s1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := ks.SetActive(kidB); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if ks.Active() != kidB {
		t.Fatalf("active = %s, want %s", ks.Active(), kidB)
	}
	if _, err := ks.Verify(old); err != nil {
		t.Fatalf("token signed before rotation should still verify: %v", err)
	}
	if err := ks.SetActive("nope"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if got := ks.JWKS(); len(got.Keys) != 2 {
		t.Fatalf("expected both keys in JWKS, got %d", len(got.Keys))
	}

	other, err := NewKeySet([]*rsa.PrivateKey{genKey(t)}, "")
	if err != nil {
		t.Fatalf("NewKeySet failed: %v", err)
	}
	if _, err := other.Verify(old); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("foreign key set should reject the token, got %v", err)
	}
}

func TestParseRSAKeys(t *testing.T) {
	a, b := genKey(t), genKey(t)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(b)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}
	raw := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(a)})) +
		string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))

	keys, err := ParseRSAKeys(raw)
	if err != nil || len(keys) != 2 {
		t.Fatalf("ParseRSAKeys: %d keys, %v", len(keys), err)
	}
	if _, err := ParseRSAKeys("not pem"); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
}
