package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/identity"
)

const table = "users"

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	FullName     string    `db:"full_name"`
	Phone        string    `db:"phone"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r userRow) toUser() identity.User {
	return identity.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         auth.Role(r.Role),
		FullName:     r.FullName,
		Phone:        r.Phone,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) DB() store.Querier {
	return r.pool
}

func (r *Repository) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	var fnErr error
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return mapErr(store.Classify("tx", err))
	}
	return err
}

func (r *Repository) Create(ctx context.Context, q store.Querier, u identity.User) (identity.User, error) {
	row, err := store.Insert[userRow](ctx, q, table, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"role":          string(u.Role),
		"full_name":     u.FullName,
		"phone":         u.Phone,
	})
	if err != nil {
		if store.IsConflict(err) {
			return identity.User{}, fmt.Errorf("%w: %s", identity.ErrEmailTaken, u.Email)
		}
		return identity.User{}, mapErr(err)
	}
	return row.toUser(), nil
}

func (r *Repository) GetByEmail(ctx context.Context, q store.Querier, email string) (identity.User, error) {
	return r.getBy(ctx, q, sq.Eq{"email": email})
}

func (r *Repository) GetByID(ctx context.Context, q store.Querier, id string) (identity.User, error) {
	return r.getBy(ctx, q, sq.Eq{"id": id})
}

func (r *Repository) getBy(ctx context.Context, q store.Querier, where sq.Sqlizer) (identity.User, error) {
	row, err := store.Get[userRow](ctx, q, table, store.Query{Where: where})
	if err != nil {
		return identity.User{}, mapErr(err)
	}
	return row.toUser(), nil
}

func (r *Repository) UpdateProfile(ctx context.Context, q store.Querier, id, fullName, phone string) (identity.User, error) {
	return r.update(ctx, q, id, map[string]any{
		"full_name":  fullName,
		"phone":      phone,
		"updated_at": sq.Expr("now()"),
	})
}

func (r *Repository) SetRole(ctx context.Context, q store.Querier, id string, role auth.Role) (identity.User, error) {
	return r.update(ctx, q, id, map[string]any{
		"role":       string(role),
		"updated_at": sq.Expr("now()"),
	})
}

func (r *Repository) update(ctx context.Context, q store.Querier, id string, patch map[string]any) (identity.User, error) {
	rows, err := store.Update[userRow](ctx, q, table, sq.Eq{"id": id}, patch)
	if err != nil {
		return identity.User{}, mapErr(err)
	}
	if len(rows) == 0 {
		return identity.User{}, fmt.Errorf("%w: %s", identity.ErrNotFound, id)
	}
	return rows[0].toUser(), nil
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
