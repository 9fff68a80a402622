package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}

	// Shutdown is a noop, safe to call repeatedly
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	// Should be an SDK TracerProvider (not the default noop)
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fields := make(map[string]bool)
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] {
		t.Error("propagator missing traceparent field")
	}
	if !fields["baggage"] {
		t.Error("propagator missing baggage field")
	}
}

func TestInit_Disabled_TracerProducesUsableSpans(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	if span == nil || ctx == nil {
		t.Fatal("tracer produced nil span or context")
	}
	span.SetName("renamed")
	span.End()
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// gRPC defers connection establishment, so Init should return quickly
	// even with an unreachable endpoint; the dial timeout bounds the worst case.
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "test",
		Component: "test",
		Version:   "v0.0.0-test",
	})
	elapsed := time.Since(start)

	if elapsed > 15*time.Second {
		t.Fatalf("Init took %v, expected bounded by dial timeout", elapsed)
	}
	if err != nil {
		return
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdown(sctx)
}
