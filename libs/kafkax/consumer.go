package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Deduper reports whether an event id is seen for the first time. A consumer
// skips messages whose id has already been handled and forgets the id again
// when the handler fails, so a redelivery is not mistaken for a duplicate.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Consumer reads a consumer group and commits each message once its handler
// succeeds, giving at-least-once delivery. A failing handler is retried with
// exponential backoff; after the last attempt the message is logged as poison
// and committed so it cannot wedge the partition. On shutdown an unfinished
// message is left uncommitted and redelivered.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	dedupe  Deduper
	handler Handler

	attempts int
	backoff  time.Duration
}

const (
	defaultAttempts = 5
	defaultBackoff  = 200 * time.Millisecond
)

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, dedupe Deduper, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:   reader,
		logger:   logger,
		dedupe:   dedupe,
		handler:  handler,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.deliver(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			meta := ExtractEventMeta(msg)
			c.logger.Error("poison event committed after retries", "err", err,
				"event_id", meta.EventID, "event_type", meta.EventType, "topic", msg.Topic, "offset", msg.Offset)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// deliver runs the handler until it succeeds, the attempts run out or ctx is
// done.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) error {
	attempts := max(c.attempts, 1)
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.process(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		c.logger.Warn("handler failed, retrying", "err", err, "attempt", attempt, "topic", msg.Topic, "offset", msg.Offset)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	spanCtx, span := StartConsumeSpan(ctx, msg)
	defer span.End()

	meta := ExtractEventMeta(msg)
	claimed := false
	if c.dedupe != nil && meta.EventID != "" {
		first, err := c.dedupe.FirstSeen(spanCtx, meta.EventID)
		switch {
		case err != nil:
			// Handlers are idempotent, so a dedupe outage only costs repeated work.
			c.logger.Warn("event dedupe unavailable", "err", err, "event_id", meta.EventID)
		case !first:
			c.logger.Debug("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			return nil
		default:
			claimed = true
		}
	}

	if err := c.handler(spanCtx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if claimed {
			if ferr := c.dedupe.Forget(context.WithoutCancel(spanCtx), meta.EventID); ferr != nil {
				c.logger.Warn("event dedupe forget failed", "err", ferr, "event_id", meta.EventID)
			}
		}
		return err
	}
	return nil
}
