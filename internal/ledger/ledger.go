// Package ledger defines what the faucet needs from the chain it pays out on.
package ledger

import (
	"context"
	"errors"
	"time"
)

// MistPerSUI is the number of base units in one SUI.
const MistPerSUI uint64 = 1_000_000_000

var (
	// ErrRejected marks a transfer the chain refused. Other errors are transport level.
	ErrRejected = errors.New("ledger rejected transaction")

	// ErrNotFound is returned when a transaction digest is unknown.
	ErrNotFound = errors.New("transaction not found")

	// ErrNoTopUpSource is returned by RequestTopUp on a network without a faucet.
	ErrNoTopUpSource = errors.New("network has no top-up source")
)

// Network is a Sui network tier.
type Network string

const (
	Mainnet  Network = "mainnet"
	Testnet  Network = "testnet"
	Devnet   Network = "devnet"
	Localnet Network = "localnet"
)

// ParseNetwork validates s as a known network.
func ParseNetwork(s string) (Network, bool) {
	switch n := Network(s); n {
	case Mainnet, Testnet, Devnet, Localnet:
		return n, true
	default:
		return "", false
	}
}

// HasTopUpSource reports whether an upstream faucet exists for the network.
func (n Network) HasTopUpSource() bool {
	return n == Testnet || n == Devnet || n == Localnet
}

// Status of an executed transfer.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Receipt is the result of an executed transfer.
type Receipt struct {
	Status  Status
	Digest  string
	GasUsed uint64
	// Error is the chain's failure message when Status is failure.
	Error string
}

// TransactionDetails is what the faucet exposes about a past transaction.
type TransactionDetails struct {
	Digest        string
	Status        Status
	GasUsed       uint64
	Timestamp     time.Time
	Events        []map[string]any
	ObjectChanges []map[string]any
}

// Client is the ledger collaborator. Implementations must be safe for concurrent use
// and must honor ctx deadlines.
type Client interface {
	// Address is the faucet's own account.
	Address() string

	// Balance returns the native-token balance of addr in MIST.
	Balance(ctx context.Context, addr string) (uint64, error)

	// Transfer sends amount MIST from the faucet to recipient and waits for execution.
	// A chain-level refusal wraps ErrRejected.
	Transfer(ctx context.Context, recipient string, amount uint64) (Receipt, error)

	// Probe is a cheap read used for health checks.
	Probe(ctx context.Context) error

	// RequestTopUp asks the network's upstream faucet to fund recipient.
	RequestTopUp(ctx context.Context, network Network, recipient string) error

	// Transaction looks up a transaction by digest. Unknown digests wrap ErrNotFound.
	Transaction(ctx context.Context, digest string) (TransactionDetails, error)
}

// ToSUI converts MIST to SUI for display.
func ToSUI(mist uint64) float64 {
	return float64(mist) / float64(MistPerSUI)
}
