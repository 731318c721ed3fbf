// Package identity implements sign-up, sessions and role assignment. Every
// session change is written to the outbox in the same transaction.
package identity

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("user not found")
	ErrUnavailable        = errors.New("identity store unavailable")
)

const (
	minPasswordLength = 6
	// bcrypt rejects longer passwords.
	maxPasswordBytes = 72
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileComplete reports whether the user has given a name and phone number.
func (u User) ProfileComplete() bool {
	return u.FullName != "" && u.Phone != ""
}

// RefreshToken is one issued refresh token. Tokens of the same sign-in share
// a SessionID; refresh rotates the token but keeps the session.
type RefreshToken struct {
	ID        string
	SessionID string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
}

type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
}

// NormalizeEmail trims and lowercases an address and checks its shape.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.Join(ErrInvalidInput, errors.New("invalid email"))
	}
	return email, nil
}

func (in SignUpInput) normalize() (SignUpInput, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return in, err
	}
	in.Email = email
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	if len(in.Password) < minPasswordLength {
		return in, errors.Join(ErrInvalidInput, errors.New("password is too short"))
	}
	if len(in.Password) > maxPasswordBytes {
		return in, errors.Join(ErrInvalidInput, errors.New("password is too long"))
	}
	return in, nil
}
