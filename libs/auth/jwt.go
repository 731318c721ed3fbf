package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Role is the capability tier carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Privileged reports whether the role may act on other users' bookings.
func (r Role) Privileged() bool {
	return r == RoleStaff || r == RoleAdmin
}

type Claims struct {
	Role      Role   `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func NewClaims(userID string, role Role, sessionID string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, func(*jwt.Token) (any, error) { return []byte(secret), nil }, jwt.SigningMethodHS256.Alg())
}

func VerifyRS256(token string, pub *rsa.PublicKey) (*Claims, error) {
	return parse(token, func(*jwt.Token) (any, error) { return pub, nil }, jwt.SigningMethodRS256.Alg())
}

// Verifier checks an access token and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

type multiVerifier struct {
	secret string
	jwks   *JWKSClient
}

// NewVerifier accepts HS256 tokens signed with secret and, when jwks is
// non-nil, RS256 tokens whose kid resolves through the key set.
func NewVerifier(secret string, jwks *JWKSClient) Verifier {
	return &multiVerifier{secret: secret, jwks: jwks}
}

func (v *multiVerifier) Verify(token string) (*Claims, error) {
	var methods []string
	if v.secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, ErrInvalidToken
	}
	return parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return []byte(v.secret), nil
		case jwt.SigningMethodRS256.Alg():
			return v.jwks.Keyfunc(t)
		default:
			return nil, ErrInvalidToken
		}
	}, methods...)
}

func parse(token string, keyFunc jwt.Keyfunc, methods ...string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, keyFunc,
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}
