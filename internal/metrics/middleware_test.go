package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	if sw.code() != http.StatusOK {
		t.Fatal("untouched writer should report 200")
	}

	sw.WriteHeader(http.StatusTooManyRequests)
	sw.WriteHeader(http.StatusOK)
	_, _ = sw.Write([]byte("abc"))
	_, _ = sw.Write([]byte("de"))

	if sw.code() != http.StatusTooManyRequests {
		t.Fatalf("code = %d, first WriteHeader wins", sw.code())
	}
	if sw.n != 5 {
		t.Fatalf("bytes = %d, want 5", sw.n)
	}
}

// faucetRouter mirrors the public routes behind the metrics middleware.
func faucetRouter(m *ServerMetrics, status int) http.Handler {
	r := chi.NewRouter()
	h := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true}`))
	}
	r.Post("/api/faucet/request", h)
	r.Get("/api/faucet/transaction/{digest}", h)
	return m.Middleware(r)
}

func TestMiddleware_RouteLabels(t *testing.T) {
	m := New()
	h := faucetRouter(m, http.StatusOK)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/faucet/transaction/abc", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/faucet/transaction/def", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "/api/faucet/transaction/{digest}", "200")); got != 2 {
		t.Fatalf("pattern series = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", unmatchedRoute, "404")); got != 1 {
		t.Fatalf("unmatched series = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.reqTotal); n != 2 {
		t.Fatalf("series = %d, digests must not become labels", n)
	}
	if testutil.ToFloat64(m.inflight) != 0 {
		t.Fatal("inflight should return to 0")
	}

	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if f == nil {
		t.Fatal("response size histogram missing")
	}
}

func TestMiddleware_StatusClasses(t *testing.T) {
	for _, tc := range []struct {
		status            int
		errors, throttled float64
	}{
		{http.StatusOK, 0, 0},
		{http.StatusUnprocessableEntity, 0, 0},
		{http.StatusTooManyRequests, 0, 1},
		{http.StatusServiceUnavailable, 1, 0},
	} {
		m := New()
		faucetRouter(m, tc.status).ServeHTTP(httptest.NewRecorder(),
			httptest.NewRequest(http.MethodPost, "/api/faucet/request", nil))

		route := "/api/faucet/request"
		if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("POST", route)); got != tc.errors {
			t.Fatalf("%d: errors = %v, want %v", tc.status, got, tc.errors)
		}
		if got := testutil.ToFloat64(m.throttledTotal.WithLabelValues(route)); got != tc.throttled {
			t.Fatalf("%d: throttled = %v, want %v", tc.status, got, tc.throttled)
		}
	}
}

func TestMiddleware_NoWriteCountsAs200(t *testing.T) {
	m := New()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", unmatchedRoute, "200")); got != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestTraceExemplar(t *testing.T) {
	if traceExemplar(context.Background()) != nil {
		t.Fatal("no exemplar without a span")
	}

	cfg := trace.SpanContextConfig{TraceID: trace.TraceID{0xab}, SpanID: trace.SpanID{0x01}}
	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(cfg))
	if traceExemplar(unsampled) != nil {
		t.Fatal("no exemplar for an unsampled span")
	}

	cfg.TraceFlags = trace.FlagsSampled
	sc := trace.NewSpanContext(cfg)
	ex := traceExemplar(trace.ContextWithSpanContext(context.Background(), sc))
	if ex["trace_id"] != sc.TraceID().String() {
		t.Fatalf("exemplar = %v", ex)
	}
}
