package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", "booking.created.v1", map[string]string{"id": "b-1"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["id"] != "b-1" {
		t.Fatalf("unexpected payload %s (%v)", evt.Payload, err)
	}
	if _, err := NewEvent("booking", "b-1", "x", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestToMessageCarriesMetaAndTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	rec := Record{
		ID:          7,
		EventID:     "e-7",
		AggregateID: "b-7",
		EventType:   "booking.status_changed.v1",
		Payload:     []byte(`{}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	msg := toMessage(context.Background(), rec)

	if msg.Topic != rec.EventType || string(msg.Key) != "b-7" {
		t.Fatalf("unexpected topic/key %q %q", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "e-7" || meta.AggregateID != "b-7" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(context.Background(), msg))
	if sc.TraceID() != traceID {
		t.Fatalf("trace not carried: %s", sc.TraceID())
	}
}
