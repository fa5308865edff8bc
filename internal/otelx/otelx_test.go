package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider = %T, want sdk provider", otel.GetTracerProvider())
	}

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Fatalf("propagator fields = %v", fields)
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "linnemanlabs-faucet",
		Component: "server",
		Version:   "v0.0.0-test",
		Network:   "testnet",
	})
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Init took %v, want bounded by dial timeout", elapsed)
	}
	if err != nil {
		return
	}
	// no collector is listening, a shutdown error is expected and not a failure
	_ = shutdown(context.Background())
}

func TestSampler(t *testing.T) {
	for ratio, want := range map[float64]string{
		-1:   "AlwaysOffSampler",
		0:    "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
		1:    "AlwaysOnSampler",
		7:    "AlwaysOnSampler",
	} {
		desc := sampler(ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+want) {
			t.Fatalf("sampler(%v) = %s, want root %s", ratio, desc, want)
		}
	}
}

func TestNewResource_Attributes(t *testing.T) {
	res := newResource(context.Background(), Options{
		Service:   "linnemanlabs-faucet",
		Component: "server",
		Version:   "1.2.3",
		Network:   "testnet",
	})
	set := res.Set()

	if v, ok := set.Value(semconv.ServiceNameKey); !ok || v.AsString() != "linnemanlabs-faucet.server" {
		t.Fatalf("service.name = %v", v.AsString())
	}
	if v, ok := set.Value(NetworkKey); !ok || v.AsString() != "testnet" {
		t.Fatalf("sui.network = %v", v.AsString())
	}

	res = newResource(context.Background(), Options{Service: "s", Component: "c"})
	if _, ok := res.Set().Value(NetworkKey); ok {
		t.Fatal("empty network should not be set")
	}
}
