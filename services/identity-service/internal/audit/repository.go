package audit

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/md-rashed-zaman/studiobook/libs/store"
)

const table = "audit_events"

// Repository writes audit rows through the caller's transaction and reads
// them back through reads.
type Repository struct {
	reads store.Querier
}

func NewRepository(reads store.Querier) *Repository {
	return &Repository{reads: reads}
}

// Record writes one audit row through q, normally the transaction that made
// the change being audited.
func (r *Repository) Record(ctx context.Context, q store.Querier, eventType, actorID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = store.Exec(ctx, q, store.Builder().Insert(table).SetMap(map[string]any{
		"event_type": eventType,
		"actor_id":   sq.Expr("NULLIF(?, '')::uuid", actorID),
		"metadata":   raw,
	}))
	return err
}

type Event struct {
	ID        int64           `json:"id" db:"id"`
	EventType string          `json:"event_type" db:"event_type"`
	ActorID   string          `json:"actor_id,omitempty" db:"actor_id"`
	Metadata  json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return store.Collect[Event](ctx, r.reads, store.Builder().
		Select("id", "event_type", "COALESCE(actor_id::text, '') AS actor_id", "metadata", "created_at").
		From(table).
		OrderBy("id DESC").
		Limit(uint64(limit)))
}
