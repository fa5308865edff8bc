package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/version"
)

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"faucet_disbursed_mist_total",
		"faucet_balance_mist",
		"faucet_balance_low",
		"faucet_rate_limit_capacity_total",
		"profiling_active",
		"go_goroutines",
		"process_",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("%q missing from scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if testutil.ToFloat64(b.httpPanicTotal) != 0 {
		t.Fatal("registries should not share state")
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("linnemanlabs-faucet", "server", version.Info{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildId:   "build-42",
		GoVersion: "go1.24.11",
		VCSDirty:  &dirty,
	})

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil || len(f.GetMetric()) != 1 || f.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("build_info = %v", f)
	}
	labels := labelsOf(f.GetMetric()[0])
	for k, want := range map[string]string{
		"app":       "linnemanlabs-faucet",
		"component": "server",
		"version":   "1.2.3",
		"build_id":  "build-42",
		"vcs_dirty": "true",
	} {
		if labels[k] != want {
			t.Errorf("label %s = %q, want %q", k, labels[k], want)
		}
	}

	m = New()
	m.SetBuildInfoFromVersion("a", "b", version.Info{Version: "dev"})
	if got := labelsOf(gatherMetric(t, m.reg, "build_info").GetMetric()[0])["vcs_dirty"]; got != "unknown" {
		t.Fatalf("nil VCSDirty = %q, want unknown", got)
	}
}

func TestAdmissionMetrics(t *testing.T) {
	m := New()
	m.IncRateLimitDenied("ip")
	m.IncRateLimitDenied("ip")
	m.IncRateLimitDenied("wallet")
	m.IncRateLimitCapacity()

	if got := testutil.ToFloat64(m.ratelimitDeniedTotal.WithLabelValues("ip")); got != 2 {
		t.Fatalf("ip denials = %v", got)
	}
	if got := testutil.ToFloat64(m.ratelimitDeniedTotal.WithLabelValues("wallet")); got != 1 {
		t.Fatalf("wallet denials = %v", got)
	}
	if got := testutil.ToFloat64(m.ratelimitCapacityTotal); got != 1 {
		t.Fatalf("capacity = %v", got)
	}
}

func TestDisbursementMetrics(t *testing.T) {
	m := New()
	m.IncDisbursement("success")
	m.IncDisbursement("success")
	m.IncDisbursement("insufficient_faucet_balance")
	m.AddDisbursedMist(1_000_000_000)
	m.AddDisbursedMist(500_000_000)

	if n := testutil.CollectAndCount(m.disbursementsTotal); n != 2 {
		t.Fatalf("outcome series = %d, want 2", n)
	}
	if got := testutil.ToFloat64(m.disbursementsTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("success = %v", got)
	}
	if got := testutil.ToFloat64(m.disbursedMistTotal); got != 1_500_000_000 {
		t.Fatalf("disbursed mist = %v", got)
	}
}

func TestLedgerAndRefillMetrics(t *testing.T) {
	m := New()
	m.ObserveLedgerCall("transfer", 0.3, false)
	m.ObserveLedgerCall("transfer", 1.2, true)
	m.IncRefillAttempt("skipped")

	f := gatherMetric(t, m.reg, "faucet_ledger_call_duration_seconds")
	if f == nil || f.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("ledger call histogram = %v", f)
	}
	if got := testutil.ToFloat64(m.ledgerErrorsTotal.WithLabelValues("transfer")); got != 1 {
		t.Fatalf("ledger errors = %v", got)
	}
	if got := testutil.ToFloat64(m.refillAttempts.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("refill attempts = %v", got)
	}
}

func TestBalanceMonitorMetrics(t *testing.T) {
	m := New()
	m.IncBalancePolls()
	m.IncBalancePolls()
	m.IncBalancePollError()
	m.SetFaucetBalance(4_000_000_000)
	m.SetBalanceLow(true)

	if got := testutil.ToFloat64(m.balancePollsTotal); got != 2 {
		t.Fatalf("polls = %v", got)
	}
	if got := testutil.ToFloat64(m.balancePollErrors); got != 1 {
		t.Fatalf("poll errors = %v", got)
	}
	if got := testutil.ToFloat64(m.faucetBalanceMist); got != 4_000_000_000 {
		t.Fatalf("balance = %v", got)
	}
	if testutil.ToFloat64(m.faucetBalanceLow) != 1 {
		t.Fatal("low gauge should be 1")
	}
	m.SetBalanceLow(false)
	if testutil.ToFloat64(m.faucetBalanceLow) != 0 {
		t.Fatal("low gauge should be 0")
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if testutil.ToFloat64(m.profilingActive) != 1 {
		t.Fatal("profiling_active should be 1")
	}
	m.SetProfilingActive(false)
	if testutil.ToFloat64(m.profilingActive) != 0 {
		t.Fatal("profiling_active should be 0")
	}
}
