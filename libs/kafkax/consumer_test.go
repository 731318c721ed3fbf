package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: map[string]bool{}}
}

func (d *memDeduper) FirstSeen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *memDeduper) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

func newTestConsumer(dedupe Deduper, handler Handler) *Consumer {
	return &Consumer{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		dedupe:   dedupe,
		handler:  handler,
		attempts: 3,
		backoff:  time.Millisecond,
	}
}

func sessionMessage() kafka.Message {
	return kafka.Message{
		Topic:   "identity.session.changed.v1",
		Key:     []byte("sess-1"),
		Headers: EventMeta{EventID: "evt-1", EventType: "identity.session.changed.v1"}.Headers(),
	}
}

func TestDeliverRetriesFailedHandler(t *testing.T) {
	calls := 0
	c := newTestConsumer(newMemDeduper(), func(context.Context, kafka.Message) error {
		calls++
		if calls == 1 {
			return errors.New("redis: connection reset")
		}
		return nil
	})

	if err := c.deliver(context.Background(), sessionMessage()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls != 2 {
		t.Fatalf("handler calls = %d, want 2", calls)
	}

	if err := c.deliver(context.Background(), sessionMessage()); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if calls != 2 {
		t.Fatalf("handled event should be skipped as duplicate, handler calls = %d", calls)
	}
}

func TestDeliverGivesUpAndForgetsEvent(t *testing.T) {
	dedupe := newMemDeduper()
	calls := 0
	failing := true
	c := newTestConsumer(dedupe, func(context.Context, kafka.Message) error {
		calls++
		if failing {
			return errors.New("store down")
		}
		return nil
	})

	if err := c.deliver(context.Background(), sessionMessage()); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
	if dedupe.seen["evt-1"] {
		t.Fatal("failed event should not stay marked as seen")
	}

	failing = false
	if err := c.deliver(context.Background(), sessionMessage()); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if calls != 4 {
		t.Fatalf("redelivered event should reach the handler, handler calls = %d", calls)
	}
}

func TestDeliverStopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestConsumer(nil, func(context.Context, kafka.Message) error {
		cancel()
		return errors.New("failed")
	})
	c.backoff = time.Hour

	if err := c.deliver(ctx, sessionMessage()); !errors.Is(err, context.Canceled) {
		t.Fatalf("deliver = %v, want context.Canceled", err)
	}
}

func TestRedisDeduperKey(t *testing.T) {
	d := NewRedisDeduper(nil, "dedupe:booking-service", 0)
	if got := d.key("evt-1"); got != "dedupe:booking-service:evt-1" {
		t.Fatalf("key = %q", got)
	}
	if d.ttl != 24*time.Hour {
		t.Fatalf("ttl = %v", d.ttl)
	}
}
