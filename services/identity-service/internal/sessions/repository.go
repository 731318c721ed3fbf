package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/identity"
)

const table = "refresh_tokens"

type tokenRow struct {
	ID        string     `db:"id"`
	SessionID string     `db:"session_id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Create(ctx context.Context, q store.Querier, t identity.RefreshToken) error {
	_, err := store.Exec(ctx, q, store.Builder().Insert(table).SetMap(map[string]any{
		"id":         t.ID,
		"session_id": t.SessionID,
		"user_id":    t.UserID,
		"token_hash": t.TokenHash,
		"expires_at": t.ExpiresAt,
	}))
	return mapErr(err)
}

// GetByHash locks the token row so concurrent refreshes of one token serialise.
func (r *Repository) GetByHash(ctx context.Context, q store.Querier, hash string) (identity.RefreshToken, error) {
	row, err := store.Get[tokenRow](ctx, q, table, store.Query{
		Where:     sq.Eq{"token_hash": hash},
		ForUpdate: true,
	})
	if err != nil {
		return identity.RefreshToken{}, mapErr(err)
	}
	return identity.RefreshToken(row), nil
}

func (r *Repository) Revoke(ctx context.Context, q store.Querier, id string) error {
	return r.revoke(ctx, q, sq.Eq{"id": id})
}

func (r *Repository) RevokeSession(ctx context.Context, q store.Querier, sessionID string) error {
	return r.revoke(ctx, q, sq.Eq{"session_id": sessionID})
}

func (r *Repository) revoke(ctx context.Context, q store.Querier, where sq.Sqlizer) error {
	_, err := store.Exec(ctx, q, store.Builder().
		Update(table).
		Set("revoked_at", sq.Expr("now()")).
		Where(sq.And{where, sq.Eq{"revoked_at": nil}}))
	return mapErr(err)
}

type sessionRow struct {
	SessionID string `db:"session_id"`
}

func (r *Repository) ActiveSessions(ctx context.Context, q store.Querier, userID string) ([]string, error) {
	rows, err := store.Collect[sessionRow](ctx, q, store.Builder().
		Select("DISTINCT session_id").
		From(table).
		Where(sq.Eq{"user_id": userID, "revoked_at": nil}).
		Where(sq.Expr("expires_at > now()")).
		OrderBy("session_id"))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.SessionID)
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case store.IsNotFound(err):
		return fmt.Errorf("%w: %v", identity.ErrNotFound, err)
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
	default:
		return err
	}
}
