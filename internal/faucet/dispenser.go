// Package faucet decides whether and how much to pay a recipient, and keeps the faucet
// account topped up.
package faucet

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/address"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// DispenserMetrics is implemented by the metrics package.
type DispenserMetrics interface {
	IncDisbursement(outcome string)
	AddDisbursedMist(amount uint64)
	ObserveLedgerCall(op string, seconds float64, failed bool)
}

type DispenserOptions struct {
	Logger  log.Logger
	Ledger  ledger.Client
	Config  Config
	Metrics DispenserMetrics
}

// Dispenser runs the balance-gated payout for one faucet account.
type Dispenser struct {
	ledger  ledger.Client
	cfg     Config
	logger  log.Logger
	metrics DispenserMetrics
}

func NewDispenser(opts DispenserOptions) (*Dispenser, error) {
	if opts.Ledger == nil {
		return nil, xerrors.New("dispenser requires a ledger client")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "dispenser config")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Dispenser{
		ledger:  opts.Ledger,
		cfg:     opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func (d *Dispenser) Config() Config { return d.cfg }

// Address is the faucet's own account.
func (d *Dispenser) Address() string { return d.ledger.Address() }

// Dispense validates the request and pays the recipient. Each check has its own reason and
// runs in order; the transfer is only submitted when every check passed.
// amountOverride nil means the configured default amount.
func (d *Dispenser) Dispense(ctx context.Context, recipientRaw string, amountOverride *int64) Result {
	res := d.dispense(ctx, recipientRaw, amountOverride)
	if d.metrics != nil {
		if res.Succeeded {
			d.metrics.IncDisbursement("success")
			d.metrics.AddDisbursedMist(res.Amount)
		} else {
			d.metrics.IncDisbursement(string(res.Reason))
		}
	}
	return res
}

func (d *Dispenser) dispense(ctx context.Context, recipientRaw string, amountOverride *int64) Result {
	recipient, err := address.Normalize(recipientRaw)
	if err != nil {
		return failed(ReasonMalformedAddress, err)
	}
	if !address.IsAcceptableRecipient(recipient) {
		return failed(ReasonRecipientRejected, nil)
	}

	amount := d.cfg.DefaultAmount
	if amountOverride != nil {
		v := *amountOverride
		if v < 0 || uint64(v) < d.cfg.MinAmount || uint64(v) > d.cfg.MaxAmount {
			return failed(ReasonAmountOutOfRange, nil)
		}
		amount = uint64(v)
	}

	logger := d.logger.With("recipient", address.Display(recipient), "amount_mist", amount)

	faucetBalance, err := d.balanceOf(ctx, "faucet_balance", d.ledger.Address())
	if err != nil {
		logger.Error(ctx, err, "faucet balance lookup failed")
		return failed(ReasonLedgerUnavailable, err)
	}
	if faucetBalance < amount {
		logger.Warn(ctx, "faucet balance below requested amount", "faucet_balance_mist", faucetBalance)
		return failed(ReasonInsufficientFaucetBalance, nil)
	}

	recipientBalance, err := d.balanceOf(ctx, "recipient_balance", recipient)
	if err != nil {
		logger.Error(ctx, err, "recipient balance lookup failed")
		return failed(ReasonLedgerUnavailable, err)
	}
	if recipientBalance > d.cfg.RecipientCeiling {
		logger.Info(ctx, "recipient above balance ceiling", "recipient_balance_mist", recipientBalance)
		return failed(ReasonRecipientAlreadyFunded, nil)
	}

	if d.cfg.RecheckBalance {
		faucetBalance, err = d.balanceOf(ctx, "faucet_balance", d.ledger.Address())
		if err != nil {
			logger.Error(ctx, err, "faucet balance recheck failed")
			return failed(ReasonLedgerUnavailable, err)
		}
		if faucetBalance < amount {
			logger.Warn(ctx, "faucet balance dropped below requested amount before submit", "faucet_balance_mist", faucetBalance)
			return failed(ReasonInsufficientFaucetBalance, nil)
		}
	}

	rcpt, err := d.transfer(ctx, recipient, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			logger.Error(ctx, err, "transfer rejected by ledger")
			return failed(ReasonTransferExecutionFailed, err)
		}
		logger.Error(ctx, err, "transfer submission failed")
		return failed(ReasonLedgerUnavailable, err)
	}
	if rcpt.Status != ledger.StatusSuccess {
		err := xerrors.Newf("transfer %s finished with status %s: %s", rcpt.Digest, rcpt.Status, rcpt.Error)
		logger.Error(ctx, err, "transfer execution failed", "digest", rcpt.Digest)
		return failed(ReasonTransferExecutionFailed, err)
	}

	logger.Info(ctx, "transfer succeeded", "digest", rcpt.Digest, "gas_used", rcpt.GasUsed)
	return Result{
		Succeeded:  true,
		TransferID: rcpt.Digest,
		Recipient:  recipient,
		Amount:     amount,
		GasUsed:    rcpt.GasUsed,
	}
}

// balanceOf reads one balance under the ledger timeout.
func (d *Dispenser) balanceOf(ctx context.Context, op, addr string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	bal, err := d.ledger.Balance(ctx, addr)
	d.observe(op, start, err)
	return bal, err
}

func (d *Dispenser) transfer(ctx context.Context, recipient string, amount uint64) (ledger.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	rcpt, err := d.ledger.Transfer(ctx, recipient, amount)
	d.observe("transfer", start, err)
	return rcpt, err
}

func (d *Dispenser) observe(op string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.ObserveLedgerCall(op, time.Since(start).Seconds(), err != nil)
	}
}

// Balance reads the faucet balance. It is never cached.
func (d *Dispenser) Balance(ctx context.Context) (BalanceSnapshot, error) {
	total, err := d.balanceOf(ctx, "faucet_balance", d.ledger.Address())
	if err != nil {
		return BalanceSnapshot{}, xerrors.Wrap(err, "read faucet balance")
	}
	return BalanceSnapshot{
		Total: total,
		IsLow: total < d.cfg.LowBalanceThreshold,
	}, nil
}

// Health probes the ledger and reports latency. It never returns an error; any failure
// is reported as unhealthy.
func (d *Dispenser) Health(ctx context.Context) Health {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.LedgerTimeout)
	start := time.Now()
	err := d.ledger.Probe(pctx)
	latency := time.Since(start)
	cancel()
	d.observe("probe", start, err)
	if err != nil {
		d.logger.Warn(ctx, "ledger probe failed", "error", err.Error(), "latency_ms", latency.Milliseconds())
		return Health{Status: Unhealthy, Latency: latency}
	}

	snap, err := d.Balance(ctx)
	if err != nil {
		d.logger.Warn(ctx, "faucet balance read failed during health check", "error", err.Error())
		return Health{Status: Unhealthy, Latency: latency}
	}
	total := snap.Total
	return Health{Status: Healthy, Latency: latency, FaucetBalance: &total}
}
