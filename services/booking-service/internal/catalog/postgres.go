package catalog

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

type serviceRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	DurationMinutes int     `db:"duration_minutes"`
	BasePrice       float64 `db:"base_price"`
	Category        string  `db:"category"`
	Description     string  `db:"description"`
	IsActive        bool    `db:"is_active"`
}

type staffRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Role     string `db:"role"`
	IsActive bool   `db:"is_active"`
}

type roomRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Capacity int    `db:"capacity"`
	RoomType string `db:"room_type"`
	IsActive bool   `db:"is_active"`
}

// Postgres reads the catalog tables directly.
type Postgres struct {
	q store.Querier
}

func NewPostgres(q store.Querier) *Postgres {
	return &Postgres{q: q}
}

var active = sq.Eq{"is_active": true}

func (p *Postgres) ListActive(ctx context.Context, kind booking.Kind) ([]booking.Resource, error) {
	switch kind {
	case booking.KindService:
		rows, err := store.Select[serviceRow](ctx, p.q, "services", store.Query{
			Where:   active,
			OrderBy: []string{"category", "name"},
		})
		if err != nil {
			return nil, err
		}
		out := make([]booking.Resource, 0, len(rows))
		for _, r := range rows {
			out = append(out, booking.Resource{
				ID:              r.ID,
				Kind:            booking.KindService,
				Name:            r.Name,
				DurationMinutes: r.DurationMinutes,
				BasePrice:       r.BasePrice,
				Category:        r.Category,
				Description:     r.Description,
				Active:          r.IsActive,
			})
		}
		return out, nil
	case booking.KindStaff:
		rows, err := store.Select[staffRow](ctx, p.q, "staff", store.Query{Where: active, OrderBy: []string{"name"}})
		if err != nil {
			return nil, err
		}
		out := make([]booking.Resource, 0, len(rows))
		for _, r := range rows {
			out = append(out, booking.Resource{ID: r.ID, Kind: booking.KindStaff, Name: r.Name, Role: r.Role, Active: r.IsActive})
		}
		return out, nil
	case booking.KindRoom:
		rows, err := store.Select[roomRow](ctx, p.q, "rooms", store.Query{Where: active, OrderBy: []string{"name"}})
		if err != nil {
			return nil, err
		}
		out := make([]booking.Resource, 0, len(rows))
		for _, r := range rows {
			out = append(out, booking.Resource{
				ID:       r.ID,
				Kind:     booking.KindRoom,
				Name:     r.Name,
				Capacity: r.Capacity,
				RoomType: r.RoomType,
				Active:   r.IsActive,
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", booking.ErrUnknownResource, kind)
	}
}
