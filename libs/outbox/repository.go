package outbox

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
)

const table = "outbox_events"

type Record struct {
	ID            int64     `db:"id"`
	EventID       string    `db:"event_id"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Traceparent   string    `db:"traceparent"`
	Tracestate    string    `db:"tracestate"`
	CreatedAt     time.Time `db:"created_at"`
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert stores evt together with the caller's trace context. q must be the
// transaction that carries the state change.
func (r *Repository) Insert(ctx context.Context, q store.Querier, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := store.Exec(ctx, q, store.Builder().Insert(table).SetMap(map[string]any{
		"aggregate_type": evt.AggregateType,
		"aggregate_id":   evt.AggregateID,
		"event_type":     evt.EventType,
		"payload":        evt.Payload,
		"traceparent":    traceparent,
		"tracestate":     tracestate,
	}))
	return err
}

func (r *Repository) FetchUnpublished(ctx context.Context, q store.Querier, limit int) ([]Record, error) {
	return store.Select[Record](ctx, q, table, store.Query{
		Where:      sq.Eq{"published_at": nil},
		OrderBy:    []string{"id"},
		Limit:      uint64(limit),
		ForUpdate:  true,
		SkipLocked: true,
	})
}

func (r *Repository) MarkPublished(ctx context.Context, q store.Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := store.Exec(ctx, q, store.Builder().
		Update(table).
		Set("published_at", sq.Expr("now()")).
		Where(sq.Eq{"id": ids}))
	return err
}
