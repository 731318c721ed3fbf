// Package tokens signs access tokens with HS256 or a set of RS256 keys and
// publishes the RS256 public keys as a JWKS.
package tokens

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
)

var ErrUnknownKey = errors.New("unknown signing key")

type Signer interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	JWKS() auth.JWKSet
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) Signer {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() auth.JWKSet {
	return auth.JWKSet{Keys: []auth.JWK{}}
}

// KeySet signs with the active RS256 key and verifies with any key in the set,
// so tokens issued before a rotation stay valid until they expire.
type KeySet struct {
	mu     sync.RWMutex
	active string
	keys   map[string]*rsa.PrivateKey
}

// NewKeySet keys each private key by auth.KeyID. An empty active kid picks
// the smallest kid.
func NewKeySet(keys []*rsa.PrivateKey, activeKid string) (*KeySet, error) {
	if len(keys) == 0 {
		return nil, errors.New("no rsa keys provided")
	}
	ks := &KeySet{keys: map[string]*rsa.PrivateKey{}}
	for _, k := range keys {
		ks.keys[auth.KeyID(&k.PublicKey)] = k
	}
	if activeKid == "" {
		activeKid = ks.kids()[0]
	}
	if err := ks.SetActive(activeKid); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeySet) kids() []string {
	out := make([]string, 0, len(ks.keys))
	for kid := range ks.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

func (ks *KeySet) SetActive(kid string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.keys[kid] == nil {
		return ErrUnknownKey
	}
	ks.active = kid
	return nil
}

func (ks *KeySet) Active() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

func (ks *KeySet) Sign(claims auth.Claims) (string, error) {
	ks.mu.RLock()
	kid, key := ks.active, ks.keys[ks.active]
	ks.mu.RUnlock()
	return auth.SignRS256(claims, key, kid)
}

func (ks *KeySet) Verify(token string) (*auth.Claims, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for _, key := range ks.keys {
		if claims, err := auth.VerifyRS256(token, &key.PublicKey); err == nil {
			return claims, nil
		}
	}
	return nil, auth.ErrInvalidToken
}

func (ks *KeySet) JWKS() auth.JWKSet {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	set := auth.JWKSet{Keys: make([]auth.JWK, 0, len(ks.keys))}
	for _, kid := range ks.kids() {
		set.Keys = append(set.Keys, auth.PublicJWK(&ks.keys[kid].PublicKey, kid))
	}
	return set
}

// ParseRSAKeys reads every PEM block in raw as an RSA private key, PKCS#1 or
// PKCS#8.
func ParseRSAKeys(raw string) ([]*rsa.PrivateKey, error) {
	var keys []*rsa.PrivateKey
	rest := []byte(strings.TrimSpace(raw))
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := parseRSAPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("no valid rsa keys found")
	}
	return keys, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}
