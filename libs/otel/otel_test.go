package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextStringsRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	if tp, ts := TraceContextStrings(context.Background()); tp != "" || ts != "" {
		t.Fatalf("expected empty trace context, got %q %q", tp, ts)
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	tp, ts := TraceContextStrings(ctx)
	if tp == "" {
		t.Fatal("expected traceparent")
	}
	restored := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), tp, ts))
	if restored.TraceID() != traceID || restored.SpanID() != spanID {
		t.Fatalf("restored span context mismatch: %s/%s", restored.TraceID(), restored.SpanID())
	}
}

func TestParseRatio(t *testing.T) {
	for raw, ok := range map[string]bool{"0": true, "0.25": true, "1": true, "1.5": false, "-1": false, "x": false} {
		if _, err := parseRatio(raw); (err == nil) != ok {
			t.Fatalf("parseRatio(%q) err=%v, want ok=%v", raw, err, ok)
		}
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
