package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	errorsTotal    *prometheus.CounterVec
	throttledTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// admission control
	ratelimitDeniedTotal   *prometheus.CounterVec
	ratelimitCapacityTotal prometheus.Counter

	// disbursements and ledger
	disbursementsTotal *prometheus.CounterVec
	disbursedMistTotal prometheus.Counter
	ledgerCallDur      *prometheus.HistogramVec
	ledgerErrorsTotal  *prometheus.CounterVec
	refillAttempts     *prometheus.CounterVec

	// balance monitor
	faucetBalanceMist prometheus.Gauge
	faucetBalanceLow  prometheus.Gauge
	balancePollsTotal prometheus.Counter
	balancePollErrors prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP and faucet metrics
// safe labels only (method, route, code, gate, outcome, op) to avoid cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		throttledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_throttled_total",
			Help: "Total 429 responses by route, from either the shield or an admission gate",
		}, []string{"route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_rate_limited_total",
			Help: "Total requests rejected by a rate limit gate (shield, ip, wallet)",
		}, []string{"gate"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_rate_limit_capacity_total",
			Help: "Total number of times a rate limit store reached its key capacity",
		}),
		disbursementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_disbursements_total",
			Help: "Dispense attempts by outcome (success or failure reason)",
		}, []string{"outcome"}),
		disbursedMistTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_disbursed_mist_total",
			Help: "Total MIST paid out by successful disbursements",
		}),
		ledgerCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faucet_ledger_call_duration_seconds",
			Help:    "Ledger call latency by operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		ledgerErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_ledger_errors_total",
			Help: "Failed ledger calls by operation",
		}, []string{"op"}),
		refillAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_refill_attempts_total",
			Help: "Refill attempts from the upstream faucet by result",
		}, []string{"result"}),
		faucetBalanceMist: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_balance_mist",
			Help: "Faucet balance in MIST at the last monitor poll",
		}),
		faucetBalanceLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_balance_low",
			Help: "Whether the faucet balance is below the low threshold (1) or not (0)",
		}),
		balancePollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_balance_polls_total",
			Help: "Total number of balance monitor polls",
		}),
		balancePollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_balance_poll_errors_total",
			Help: "Total number of balance monitor polls that failed to read the ledger",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.throttledTotal,
		m.profilingActive,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.disbursementsTotal,
		m.disbursedMistTotal,
		m.ledgerCallDur,
		m.ledgerErrorsTotal,
		m.refillAttempts,
		m.faucetBalanceMist,
		m.faucetBalanceLow,
		m.balancePollsTotal,
		m.balancePollErrors,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// IncRateLimitDenied counts one denial by gate: shield, ip or wallet.
func (m *ServerMetrics) IncRateLimitDenied(gate string) {
	m.ratelimitDeniedTotal.WithLabelValues(gate).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

// IncDisbursement counts a Dispense outcome, "success" or a failure reason.
func (m *ServerMetrics) IncDisbursement(outcome string) {
	m.disbursementsTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) AddDisbursedMist(amount uint64) {
	m.disbursedMistTotal.Add(float64(amount))
}

func (m *ServerMetrics) ObserveLedgerCall(op string, seconds float64, failed bool) {
	m.ledgerCallDur.WithLabelValues(op).Observe(seconds)
	if failed {
		m.ledgerErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (m *ServerMetrics) IncRefillAttempt(result string) {
	m.refillAttempts.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncBalancePolls() {
	m.balancePollsTotal.Inc()
}

func (m *ServerMetrics) IncBalancePollError() {
	m.balancePollErrors.Inc()
}

func (m *ServerMetrics) SetFaucetBalance(mist uint64) {
	m.faucetBalanceMist.Set(float64(mist))
}

func (m *ServerMetrics) SetBalanceLow(low bool) {
	m.faucetBalanceLow.Set(boolGauge(low))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
