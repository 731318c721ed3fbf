package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/outbox"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"golang.org/x/crypto/bcrypt"
)

type Users interface {
	DB() store.Querier
	InTx(ctx context.Context, fn func(q store.Querier) error) error
	Create(ctx context.Context, q store.Querier, u User) (User, error)
	GetByEmail(ctx context.Context, q store.Querier, email string) (User, error)
	GetByID(ctx context.Context, q store.Querier, id string) (User, error)
	UpdateProfile(ctx context.Context, q store.Querier, id, fullName, phone string) (User, error)
	SetRole(ctx context.Context, q store.Querier, id string, role auth.Role) (User, error)
}

type Sessions interface {
	Create(ctx context.Context, q store.Querier, t RefreshToken) error
	GetByHash(ctx context.Context, q store.Querier, hash string) (RefreshToken, error)
	Revoke(ctx context.Context, q store.Querier, id string) error
	RevokeSession(ctx context.Context, q store.Querier, sessionID string) error
	// ActiveSessions lists the distinct session ids with an unrevoked token.
	ActiveSessions(ctx context.Context, q store.Querier, userID string) ([]string, error)
}

type Audit interface {
	Record(ctx context.Context, q store.Querier, eventType, actorID string, metadata map[string]any) error
}

type Events interface {
	Insert(ctx context.Context, q store.Querier, evt outbox.Event) error
}

type Signer interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Service struct {
	users    Users
	sessions Sessions
	audit    Audit
	events   Events
	signer   Signer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(users Users, sessions Sessions, audit Audit, events Events, signer Signer, cfg Config, logger *slog.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		users:    users,
		sessions: sessions,
		audit:    audit,
		events:   events,
		signer:   signer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SignUp registers a customer and signs them in.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (User, Tokens, error) {
	in, err := in.normalize()
	if err != nil {
		return User{}, Tokens{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return User{}, Tokens{}, err
	}

	var (
		user   User
		tokens Tokens
	)
	err = s.users.InTx(ctx, func(q store.Querier) error {
		created, err := s.users.Create(ctx, q, User{
			ID:           s.newID(),
			Email:        in.Email,
			PasswordHash: hash,
			Role:         auth.RoleCustomer,
			FullName:     in.FullName,
			Phone:        in.Phone,
		})
		if err != nil {
			return err
		}
		if err := s.audit.Record(ctx, q, "user.signed_up", created.ID, map[string]any{"email": created.Email}); err != nil {
			return err
		}
		tokens, err = s.startSession(ctx, q, created, s.newID(), auth.SessionSignedIn)
		user = created
		return err
	})
	if err != nil {
		return User{}, Tokens{}, err
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	return user, tokens, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Tokens, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Tokens{}, ErrInvalidCredentials
	}
	var tokens Tokens
	err = s.users.InTx(ctx, func(q store.Querier) error {
		user, err := s.users.GetByEmail(ctx, q, email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		if err := verifyPassword(user.PasswordHash, password); err != nil {
			return ErrInvalidCredentials
		}
		tokens, err = s.startSession(ctx, q, user, s.newID(), auth.SessionSignedIn)
		return err
	})
	return tokens, err
}

// Refresh rotates a refresh token. The new pair keeps the session id.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Tokens, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Tokens{}, ErrUnauthorized
	}
	var tokens Tokens
	err := s.users.InTx(ctx, func(q store.Querier) error {
		current, err := s.sessions.GetByHash(ctx, q, HashToken(rawRefresh))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if !current.Usable(s.now()) {
			return fmt.Errorf("%w: refresh token revoked or expired", ErrUnauthorized)
		}
		user, err := s.users.GetByID(ctx, q, current.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if err := s.sessions.Revoke(ctx, q, current.ID); err != nil {
			return err
		}
		tokens, err = s.startSession(ctx, q, user, current.SessionID, auth.SessionRefreshed)
		return err
	})
	return tokens, err
}

// SignOut revokes every refresh token of the session. Unknown tokens are
// ignored.
func (s *Service) SignOut(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}
	return s.users.InTx(ctx, func(q store.Querier) error {
		current, err := s.sessions.GetByHash(ctx, q, HashToken(rawRefresh))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if current.RevokedAt != nil {
			return nil
		}
		if err := s.sessions.RevokeSession(ctx, q, current.SessionID); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, q, "session.signed_out", current.UserID, map[string]any{"session_id": current.SessionID}); err != nil {
			return err
		}
		return s.emit(ctx, q, auth.SessionChange{
			SessionID: current.SessionID,
			UserID:    current.UserID,
			Action:    auth.SessionSignedOut,
		})
	})
}

// Session resolves an access token to its user.
func (s *Service) Session(ctx context.Context, accessToken string) (User, *auth.Claims, error) {
	claims, err := s.signer.Verify(accessToken)
	if err != nil {
		return User{}, nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.users.GetByID(ctx, s.users.DB(), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, nil, ErrUnauthorized
		}
		return User{}, nil, err
	}
	return user, claims, nil
}

func (s *Service) CompleteProfile(ctx context.Context, userID, fullName, phone string) (User, error) {
	fullName, phone = strings.TrimSpace(fullName), strings.TrimSpace(phone)
	if fullName == "" || phone == "" {
		return User{}, errors.Join(ErrInvalidInput, errors.New("full_name and phone are required"))
	}
	var user User
	err := s.users.InTx(ctx, func(q store.Querier) error {
		var err error
		if user, err = s.users.UpdateProfile(ctx, q, userID, fullName, phone); err != nil {
			return err
		}
		return s.audit.Record(ctx, q, "user.profile_completed", userID, nil)
	})
	return user, err
}

// AssignRole changes a user's role. The user's open sessions are ended so
// no access token keeps the old role.
func (s *Service) AssignRole(ctx context.Context, actorID string, actorRole auth.Role, userID string, role auth.Role) (User, error) {
	if actorRole != auth.RoleAdmin {
		return User{}, fmt.Errorf("%w: only admins may assign roles", ErrForbidden)
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return User{}, errors.Join(ErrInvalidInput, err)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	var user User
	err := s.users.InTx(ctx, func(q store.Querier) error {
		var err error
		if user, err = s.users.SetRole(ctx, q, userID, role); err != nil {
			return err
		}
		sessionIDs, err := s.sessions.ActiveSessions(ctx, q, userID)
		if err != nil {
			return err
		}
		for _, sid := range sessionIDs {
			if err := s.sessions.RevokeSession(ctx, q, sid); err != nil {
				return err
			}
			if err := s.emit(ctx, q, auth.SessionChange{SessionID: sid, UserID: userID, Role: role, Action: auth.SessionRoleChanged}); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, q, "user.role_changed", actorID, map[string]any{
			"user_id":  userID,
			"role":     role,
			"sessions": len(sessionIDs),
		})
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("role assigned", "user_id", userID, "role", role, "actor_id", actorID)
	return user, nil
}

func (s *Service) startSession(ctx context.Context, q store.Querier, user User, sessionID string, action auth.SessionAction) (Tokens, error) {
	now := s.now()
	raw, err := newRefreshToken()
	if err != nil {
		return Tokens{}, err
	}
	if err := s.sessions.Create(ctx, q, RefreshToken{
		ID:        s.newID(),
		SessionID: sessionID,
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}); err != nil {
		return Tokens{}, err
	}
	access, err := s.signer.Sign(auth.NewClaims(user.ID, user.Role, sessionID, now, s.cfg.AccessTTL))
	if err != nil {
		return Tokens{}, err
	}
	if err := s.emit(ctx, q, auth.SessionChange{SessionID: sessionID, UserID: user.ID, Role: user.Role, Action: action}); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
		SessionID:    sessionID,
	}, nil
}

func (s *Service) emit(ctx context.Context, q store.Querier, change auth.SessionChange) error {
	change.OccurredAt = s.now().UTC()
	evt, err := outbox.NewEvent("session", change.SessionID, auth.TopicSessionChanged, change)
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, q, evt)
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
