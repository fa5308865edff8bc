package faucet

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

const (
	// DefaultCheckInterval is how often the monitor reads the faucet balance.
	DefaultCheckInterval = 5 * time.Minute

	// DefaultRefillMinInterval is the minimum spacing between automatic refills.
	DefaultRefillMinInterval = time.Hour

	// maxBackoff caps exponential backoff on consecutive ledger errors.
	maxBackoff = 15 * time.Minute
)

// BalanceReader is what the monitor needs from the Dispenser.
type BalanceReader interface {
	Balance(ctx context.Context) (BalanceSnapshot, error)
}

// RefillRequester is what the monitor needs from the Refiller.
type RefillRequester interface {
	Refill(ctx context.Context) bool
}

// MonitorMetrics is implemented by the metrics package.
type MonitorMetrics interface {
	IncBalancePolls()
	IncBalancePollError()
	SetFaucetBalance(mist uint64)
	SetBalanceLow(low bool)
}

type MonitorOptions struct {
	Logger   log.Logger
	Balance  BalanceReader
	Refiller RefillRequester
	Metrics  MonitorMetrics

	Interval time.Duration

	// AutoRefill requests a top-up when the balance is low, at most once per RefillMinInterval.
	AutoRefill        bool
	RefillMinInterval time.Duration
}

// Monitor polls the faucet balance, exports it, logs transitions into and out of the
// low state and optionally refills. Notify triggers an early poll.
type Monitor struct {
	balance  BalanceReader
	refiller RefillRequester
	logger   log.Logger
	metrics  MonitorMetrics
	interval time.Duration

	autoRefill bool
	refillGate *rate.Limiter

	nudge chan struct{}

	// poll loop state, only touched by Run
	consecutiveErrs int
	low             bool
	known           bool
	pollCount       int64
	refillCount     int64
}

func NewMonitor(opts *MonitorOptions) *Monitor {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	minRefill := opts.RefillMinInterval
	if minRefill <= 0 {
		minRefill = DefaultRefillMinInterval
	}
	return &Monitor{
		balance:    opts.Balance,
		refiller:   opts.Refiller,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		interval:   interval,
		autoRefill: opts.AutoRefill && opts.Refiller != nil,
		refillGate: rate.NewLimiter(rate.Every(minRefill), 1),
		nudge:      make(chan struct{}, 1),
	}
}

// Notify asks for a poll as soon as possible. It never blocks.
func (m *Monitor) Notify() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
// Intended to be launched as: go monitor.Run(ctx)
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info(ctx, "balance monitor starting",
		"interval", m.interval.String(),
		"auto_refill", m.autoRefill,
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.afterPoll(ctx, ticker, m.checkOnce(ctx))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "balance monitor stopping",
				"reason", ctx.Err(),
				"polls", m.pollCount,
				"refills", m.refillCount,
			)
			return ctx.Err()
		case <-ticker.C:
			m.afterPoll(ctx, ticker, m.checkOnce(ctx))
		case <-m.nudge:
			m.afterPoll(ctx, ticker, m.checkOnce(ctx))
		}
	}
}

func (m *Monitor) afterPoll(ctx context.Context, ticker *time.Ticker, ok bool) {
	if !ok {
		m.consecutiveErrs++
		backoff := m.backoffDuration()
		m.logger.Warn(ctx, "balance monitor: backing off",
			"consecutive_errors", m.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		ticker.Reset(backoff)
		return
	}
	if m.consecutiveErrs > 0 {
		m.logger.Info(ctx, "balance monitor: recovered, resuming normal interval",
			"had_consecutive_errors", m.consecutiveErrs,
		)
		m.consecutiveErrs = 0
		ticker.Reset(m.interval)
	}
}

// checkOnce reads the balance, updates state and refills if allowed.
// Returns false when the ledger could not be read.
func (m *Monitor) checkOnce(ctx context.Context) bool {
	m.pollCount++
	if m.metrics != nil {
		m.metrics.IncBalancePolls()
	}

	snap, err := m.balance.Balance(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "balance monitor: balance read failed")
		if m.metrics != nil {
			m.metrics.IncBalancePollError()
		}
		return false
	}
	m.observe(ctx, snap)

	if snap.IsLow && m.autoRefill {
		m.maybeRefill(ctx)
	}
	return true
}

func (m *Monitor) observe(ctx context.Context, snap BalanceSnapshot) {
	if m.metrics != nil {
		m.metrics.SetFaucetBalance(snap.Total)
		m.metrics.SetBalanceLow(snap.IsLow)
	}

	switch {
	case snap.IsLow && (!m.known || !m.low):
		m.logger.Warn(ctx, "faucet balance is low",
			"balance_mist", snap.Total,
			"balance_sui", ledger.ToSUI(snap.Total),
		)
	case !snap.IsLow && m.known && m.low:
		m.logger.Info(ctx, "faucet balance recovered",
			"balance_mist", snap.Total,
			"balance_sui", ledger.ToSUI(snap.Total),
		)
	}
	m.low = snap.IsLow
	m.known = true
}

func (m *Monitor) maybeRefill(ctx context.Context) {
	if !m.refillGate.Allow() {
		m.logger.Debug(ctx, "balance monitor: refill throttled")
		return
	}
	m.refillCount++
	if !m.refiller.Refill(ctx) {
		return
	}

	snap, err := m.balance.Balance(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "balance monitor: balance read after refill failed")
		return
	}
	m.observe(ctx, snap)
}

// backoffDuration computes exponential backoff capped at maxBackoff.
func (m *Monitor) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(m.consecutiveErrs))
	d := time.Duration(float64(m.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
