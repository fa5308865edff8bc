package faucet

import (
	"context"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// RefillMetrics is implemented by the metrics package.
type RefillMetrics interface {
	IncRefillAttempt(result string)
}

type RefillerOptions struct {
	Logger  log.Logger
	Ledger  ledger.Client
	Network ledger.Network
	Metrics RefillMetrics

	// Timeout bounds the upstream top-up call, DefaultLedgerTimeout when unset
	Timeout time.Duration
}

// Refiller asks the network's upstream faucet to fund the faucet account.
type Refiller struct {
	ledger  ledger.Client
	network ledger.Network
	logger  log.Logger
	metrics RefillMetrics
	timeout time.Duration
}

func NewRefiller(opts RefillerOptions) *Refiller {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLedgerTimeout
	}
	return &Refiller{
		ledger:  opts.Ledger,
		network: opts.Network,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
	}
}

// Refill returns true when the upstream faucet accepted the request. It returns false
// without any network call when the network has no upstream faucet. Upstream errors
// and panics are logged and reported as false. Callers re-read the balance afterwards.
func (r *Refiller) Refill(ctx context.Context) (ok bool) {
	if !r.network.HasTopUpSource() {
		r.logger.Info(ctx, "refill skipped, network has no top-up source", "network", string(r.network))
		r.record("skipped")
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, xerrors.Newf("refill panic: %v", rec), "refill from upstream faucet panicked")
			r.record("failure")
			ok = false
		}
	}()

	r.logger.Info(ctx, "requesting top-up from upstream faucet", "network", string(r.network))
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.ledger.RequestTopUp(tctx, r.network, r.ledger.Address()); err != nil {
		r.logger.Error(ctx, err, "refill from upstream faucet failed", "network", string(r.network))
		r.record("failure")
		return false
	}

	r.logger.Info(ctx, "refill from upstream faucet succeeded", "network", string(r.network))
	r.record("success")
	return true
}

func (r *Refiller) record(result string) {
	if r.metrics != nil {
		r.metrics.IncRefillAttempt(result)
	}
}
