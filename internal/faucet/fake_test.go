package faucet

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
)

const faucetAddr = "0xfa0000000000000000000000000000000000000000000000000000000000cafe"

// fakeLedger is an in-memory ledger.Client that records calls.
type fakeLedger struct {
	mu sync.Mutex

	balances map[string]uint64

	balanceErr  error
	transferErr error
	probeErr    error
	topUpErr    error
	status      ledger.Status
	topUpPanic  bool

	balanceCalls  int
	transferCalls int
	topUpCalls    int
	lastTransfer  struct {
		to     string
		amount uint64
	}
}

func newFakeLedger(faucetBalance uint64) *fakeLedger {
	return &fakeLedger{
		balances: map[string]uint64{faucetAddr: faucetBalance},
		status:   ledger.StatusSuccess,
	}
}

func (f *fakeLedger) Address() string { return faucetAddr }

func (f *fakeLedger) Balance(ctx context.Context, addr string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.balances[addr], nil
}

func (f *fakeLedger) Transfer(_ context.Context, to string, amount uint64) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	f.lastTransfer.to = to
	f.lastTransfer.amount = amount
	if f.transferErr != nil {
		return ledger.Receipt{}, f.transferErr
	}
	if f.status == ledger.StatusSuccess {
		f.balances[faucetAddr] -= amount
		f.balances[to] += amount
	}
	return ledger.Receipt{Status: f.status, Digest: "DigestABC123", GasUsed: 1000}, nil
}

func (f *fakeLedger) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeLedger) RequestTopUp(_ context.Context, _ ledger.Network, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topUpCalls++
	if f.topUpPanic {
		panic("upstream exploded")
	}
	if f.topUpErr != nil {
		return f.topUpErr
	}
	f.balances[recipient] += 10 * ledger.MistPerSUI
	return nil
}

func (f *fakeLedger) Transaction(context.Context, string) (ledger.TransactionDetails, error) {
	return ledger.TransactionDetails{}, ledger.ErrNotFound
}

func (f *fakeLedger) setBalance(addr string, v uint64) {
	f.mu.Lock()
	f.balances[addr] = v
	f.mu.Unlock()
}

func (f *fakeLedger) counts() (balance, transfer, topUp int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls, f.transferCalls, f.topUpCalls
}
