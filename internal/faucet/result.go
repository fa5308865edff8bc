package faucet

import "time"

// Reason classifies why a disbursement did not happen.
type Reason string

const (
	ReasonMalformedAddress          Reason = "malformed_address"
	ReasonRecipientRejected         Reason = "recipient_rejected"
	ReasonAmountOutOfRange          Reason = "amount_out_of_range"
	ReasonInsufficientFaucetBalance Reason = "insufficient_faucet_balance"
	ReasonRecipientAlreadyFunded    Reason = "recipient_already_funded"
	ReasonTransferExecutionFailed   Reason = "transfer_execution_failed"
	ReasonLedgerUnavailable         Reason = "ledger_unavailable"
	ReasonRateLimitedByIP           Reason = "rate_limited_by_ip"
	ReasonRateLimitedByWallet       Reason = "rate_limited_by_wallet"
	ReasonInternalError             Reason = "internal_error"
)

// CallerFixable reports whether the caller can act on the reason, as opposed to a
// faucet-side failure that is only worth retrying later.
func (r Reason) CallerFixable() bool {
	switch r {
	case ReasonMalformedAddress, ReasonRecipientRejected, ReasonAmountOutOfRange,
		ReasonRecipientAlreadyFunded, ReasonRateLimitedByIP, ReasonRateLimitedByWallet:
		return true
	default:
		return false
	}
}

// Result is the outcome of one Dispense call. TransferID is set iff Succeeded,
// Reason is set iff not.
type Result struct {
	Succeeded  bool
	TransferID string
	Recipient  string
	Amount     uint64
	GasUsed    uint64
	Reason     Reason

	// Err carries ledger detail for logs. Never shown to callers.
	Err error
}

func failed(reason Reason, err error) Result {
	return Result{Reason: reason, Err: err}
}

// BalanceSnapshot is the faucet balance read from the ledger on each call.
type BalanceSnapshot struct {
	Total uint64
	IsLow bool
}

// HealthStatus is healthy or unhealthy.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// Health is the result of a ledger probe.
type Health struct {
	Status  HealthStatus
	Latency time.Duration
	// FaucetBalance is set when the probe and the balance read both succeeded.
	FaucetBalance *uint64
}
