package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"github.com/md-rashed-zaman/studiobook/libs/store"
	"github.com/segmentio/kafka-go"
)

// topicCatalogChanged is consumed by booking-service to drop cached listings.
const topicCatalogChanged = "catalog.changed.v1"

type table struct {
	kind    string
	name    string
	columns []string
	rows    [][]any
	ids     []string
}

func (c Catalog) tables() []table {
	services := table{kind: "services", name: "services",
		columns: []string{"id", "name", "duration_minutes", "base_price", "category", "description", "is_active"}}
	for _, s := range c.Services {
		services.rows = append(services.rows, []any{s.ID, s.Name, s.DurationMinutes, s.BasePrice, s.Category, s.Description, !s.Inactive})
		services.ids = append(services.ids, s.ID)
	}
	staff := table{kind: "staff", name: "staff", columns: []string{"id", "name", "role", "is_active"}}
	for _, s := range c.Staff {
		staff.rows = append(staff.rows, []any{s.ID, s.Name, s.Role, !s.Inactive})
		staff.ids = append(staff.ids, s.ID)
	}
	rooms := table{kind: "rooms", name: "rooms", columns: []string{"id", "name", "capacity", "room_type", "is_active"}}
	for _, r := range c.Rooms {
		rooms.rows = append(rooms.rows, []any{r.ID, r.Name, r.Capacity, r.Type, !r.Inactive})
		rooms.ids = append(rooms.ids, r.ID)
	}
	return []table{services, staff, rooms}
}

func upsert(t table) sq.InsertBuilder {
	b := store.Builder().Insert(t.name).Columns(t.columns...)
	for _, row := range t.rows {
		b = b.Values(row...)
	}
	sets := make([]string, 0, len(t.columns)-1)
	for _, col := range t.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return b.Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", "))
}

// retire deactivates rows missing from the file. Rows are never deleted since
// bookings keep referring to them.
func retire(t table) sq.UpdateBuilder {
	b := store.Builder().Update(t.name).Set("is_active", false).Where(sq.Eq{"is_active": true})
	if len(t.ids) > 0 {
		b = b.Where(sq.NotEq{"id": t.ids})
	}
	return b
}

type Result struct {
	Upserted map[string]int
	Retired  map[string]int
}

// Kinds lists the tables that changed.
func (r Result) Kinds() []string {
	var out []string
	for _, k := range []string{"services", "staff", "rooms"} {
		if r.Upserted[k] > 0 || r.Retired[k] > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Apply writes the catalog through q, normally a transaction.
func Apply(ctx context.Context, q store.Querier, c Catalog, retireMissing bool) (Result, error) {
	res := Result{Upserted: map[string]int{}, Retired: map[string]int{}}
	for _, t := range c.tables() {
		if len(t.rows) > 0 {
			n, err := store.Exec(ctx, q, upsert(t))
			if err != nil {
				return Result{}, fmt.Errorf("upsert %s: %w", t.name, err)
			}
			res.Upserted[t.kind] = int(n)
		}
		if retireMissing {
			n, err := store.Exec(ctx, q, retire(t))
			if err != nil {
				return Result{}, fmt.Errorf("retire %s: %w", t.name, err)
			}
			res.Retired[t.kind] = int(n)
		}
	}
	return res, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publish tells booking-service which listings to refresh.
func Publish(ctx context.Context, w messageWriter, eventID string, kinds []string) error {
	if len(kinds) == 0 {
		return nil
	}
	raw, err := json.Marshal(map[string][]string{"kinds": kinds})
	if err != nil {
		return err
	}
	meta := kafkax.EventMeta{EventID: eventID, EventType: topicCatalogChanged, AggregateID: "catalog"}
	return w.WriteMessages(ctx, kafka.Message{
		Topic:   topicCatalogChanged,
		Key:     []byte("catalog"),
		Value:   raw,
		Headers: kafkax.InjectTraceHeaders(ctx, meta.Headers()),
	})
}
