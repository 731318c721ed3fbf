package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/segmentio/kafka-go"
)

// TopicChanged carries catalog edits made outside this service.
const TopicChanged = "catalog.changed.v1"

// ChangedEvent names the kinds whose listings changed. An empty list means all.
type ChangedEvent struct {
	Kinds []string `json:"kinds"`
}

var allKinds = []booking.Kind{booking.KindService, booking.KindStaff, booking.KindRoom}

// kindsOf decodes a change event into the listings to drop. Unknown kinds are
// skipped.
func kindsOf(msg kafka.Message) ([]booking.Kind, error) {
	var evt ChangedEvent
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return nil, err
		}
	}
	if len(evt.Kinds) == 0 {
		return allKinds, nil
	}
	var out []booking.Kind
	for _, raw := range evt.Kinds {
		if k, err := booking.ParseKind(raw); err == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

// HandleChanged drops the cached listings named by a catalog change event.
func (c *Cache) HandleChanged(ctx context.Context, msg kafka.Message) error {
	kinds, err := kindsOf(msg)
	if err != nil {
		c.logger.Warn("catalog change event unreadable", "offset", msg.Offset, "err", err)
		return nil
	}
	var errs []error
	for _, k := range kinds {
		if err := c.Invalidate(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if len(kinds) > 0 {
		c.logger.Info("catalog cache invalidated", "kinds", kinds)
	}
	return errors.Join(errs...)
}
