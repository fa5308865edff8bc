package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newRecordingSpan creates a context with a real recording span.
func newRecordingSpan(t *testing.T, name string) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, _ := tp.Tracer("test").Start(context.Background(), name)
	return ctx, sr
}

func TestTraceResponseHeaders(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/faucet/request", nil).WithContext(ctx))
	if rec.Header().Get("X-Trace-Id") != traceID.String() || rec.Header().Get("X-Span-Id") != spanID.String() {
		t.Fatalf("headers = %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/faucet/request", nil))
	if rec.Header().Get("X-Trace-Id") != "" {
		t.Fatal("no trace header without a span")
	}
}

func TestAnnotateHTTPRoute_RenamesAndTagsSpan(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "GET /api/faucet/transaction/abc")
	ctx = WithClientIP(ctx, "203.0.113.7")
	ctx = WithRequestID(ctx, "req-1")

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/api/faucet/transaction/{digest}", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/api/faucet/transaction/abc", nil).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)
	trace.SpanFromContext(ctx).End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	if got := spans[0].Name(); got != "GET /api/faucet/transaction/{digest}" {
		t.Fatalf("span name = %q", got)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["http.route"] != "/api/faucet/transaction/{digest}" ||
		attrs["client.address"] != "203.0.113.7" ||
		attrs["http.request.id"] != "req-1" {
		t.Fatalf("attrs = %v", attrs)
	}
}

func TestAnnotateHTTPRoute_FallsBackToPath(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "initial")
	req := httptest.NewRequest(http.MethodGet, "/unrouted", nil).WithContext(ctx)
	AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(httptest.NewRecorder(), req)
	trace.SpanFromContext(ctx).End()

	if got := sr.Ended()[0].Name(); got != "GET /unrouted" {
		t.Fatalf("span name = %q", got)
	}
}

func TestAnnotateHTTPRoute_NonRecordingSpan(t *testing.T) {
	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("handler not called")
	}
}
