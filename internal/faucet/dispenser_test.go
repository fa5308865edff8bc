package faucet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
)

const recipient = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestDispenser(t *testing.T, l ledger.Client, mut ...func(*Config)) *Dispenser {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mut {
		m(&cfg)
	}
	d, err := NewDispenser(DispenserOptions{Ledger: l, Config: cfg})
	if err != nil {
		t.Fatalf("NewDispenser: %v", err)
	}
	return d
}

func i64(v int64) *int64 { return &v }

func TestDispense_MalformedAddressNoLedgerCall(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), "0x123", nil)
	if res.Succeeded || res.Reason != ReasonMalformedAddress {
		t.Fatalf("result = %+v, want malformed_address", res)
	}
	if b, tr, _ := l.counts(); b != 0 || tr != 0 {
		t.Fatalf("ledger called: balance=%d transfer=%d", b, tr)
	}
}

func TestDispense_ZeroAddressRejected(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), "0x0000000000000000000000000000000000000000000000000000000000000000", nil)
	if res.Reason != ReasonRecipientRejected {
		t.Fatalf("Reason = %q, want recipient_rejected", res.Reason)
	}
	if b, _, _ := l.counts(); b != 0 {
		t.Fatal("ledger should not be called for rejected recipient")
	}
}

func TestDispense_DefaultAmountSucceeds(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), "  "+recipient+" ", nil)
	if !res.Succeeded {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Amount != 1_000_000_000 {
		t.Fatalf("Amount = %d, want 1000000000", res.Amount)
	}
	if res.TransferID == "" {
		t.Fatal("TransferID should be set on success")
	}
	if res.Reason != "" {
		t.Fatalf("Reason = %q, want empty on success", res.Reason)
	}
	if l.lastTransfer.to != recipient {
		t.Fatalf("transfer to %q, want normalized %q", l.lastTransfer.to, recipient)
	}
}

func TestDispense_AmountOverride(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)
	ctx := context.Background()

	for _, v := range []int64{0, -1, 99_999_999, 5_000_000_001} {
		res := d.Dispense(ctx, recipient, i64(v))
		if res.Reason != ReasonAmountOutOfRange {
			t.Errorf("override %d: Reason = %q, want amount_out_of_range", v, res.Reason)
		}
	}
	if b, _, _ := l.counts(); b != 0 {
		t.Fatal("ledger should not be called for out of range amounts")
	}

	for _, v := range []int64{100_000_000, 5_000_000_000} {
		res := d.Dispense(ctx, recipient, i64(v))
		if !res.Succeeded || res.Amount != uint64(v) {
			t.Errorf("override %d: result = %+v, want success", v, res)
		}
	}
}

func TestDispense_InsufficientFaucetBalanceNoTransfer(t *testing.T) {
	l := newFakeLedger(500_000_000)
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), recipient, nil)
	if res.Reason != ReasonInsufficientFaucetBalance {
		t.Fatalf("Reason = %q, want insufficient_faucet_balance", res.Reason)
	}
	if _, tr, _ := l.counts(); tr != 0 {
		t.Fatal("transfer must not be invoked")
	}
}

func TestDispense_RecipientAboveCeilingNoTransfer(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	l.setBalance(recipient, 60*ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), recipient, nil)
	if res.Reason != ReasonRecipientAlreadyFunded {
		t.Fatalf("Reason = %q, want recipient_already_funded", res.Reason)
	}
	if _, tr, _ := l.counts(); tr != 0 {
		t.Fatal("transfer must not be invoked")
	}
}

func TestDispense_RecipientAtCeilingAllowed(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	l.setBalance(recipient, 50*ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	if res := d.Dispense(context.Background(), recipient, nil); !res.Succeeded {
		t.Fatalf("result = %+v, want success at exactly the ceiling", res)
	}
}

func TestDispense_TransferFailureStatus(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	l.status = ledger.StatusFailure
	d := newTestDispenser(t, l)

	res := d.Dispense(context.Background(), recipient, nil)
	if res.Reason != ReasonTransferExecutionFailed {
		t.Fatalf("Reason = %q, want transfer_execution_failed", res.Reason)
	}
	if res.TransferID != "" {
		t.Fatal("TransferID must be empty on failure")
	}
}

func TestDispense_TransferRejected(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	l.transferErr = errors.Join(ledger.ErrRejected, errors.New("bad signature"))
	d := newTestDispenser(t, l)

	if res := d.Dispense(context.Background(), recipient, nil); res.Reason != ReasonTransferExecutionFailed {
		t.Fatalf("Reason = %q, want transfer_execution_failed", res.Reason)
	}
}

func TestDispense_TransportErrorsAreLedgerUnavailable(t *testing.T) {
	ctx := context.Background()

	l := newFakeLedger(100 * ledger.MistPerSUI)
	l.balanceErr = errors.New("connection refused")
	if res := newTestDispenser(t, l).Dispense(ctx, recipient, nil); res.Reason != ReasonLedgerUnavailable {
		t.Fatalf("balance error: Reason = %q, want ledger_unavailable", res.Reason)
	}

	l = newFakeLedger(100 * ledger.MistPerSUI)
	l.transferErr = context.DeadlineExceeded
	res := newTestDispenser(t, l).Dispense(ctx, recipient, nil)
	if res.Reason != ReasonLedgerUnavailable {
		t.Fatalf("transfer timeout: Reason = %q, want ledger_unavailable", res.Reason)
	}
	if res.Err == nil {
		t.Fatal("Err should carry the ledger error for logging")
	}
}

// slowLedger blocks Balance until ctx is done.
type slowLedger struct{ *fakeLedger }

func (s slowLedger) Balance(ctx context.Context, _ string) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestDispense_LedgerTimeout(t *testing.T) {
	l := slowLedger{newFakeLedger(0)}
	d := newTestDispenser(t, l, func(c *Config) { c.LedgerTimeout = 20 * time.Millisecond })

	start := time.Now()
	res := d.Dispense(context.Background(), recipient, nil)
	if res.Reason != ReasonLedgerUnavailable {
		t.Fatalf("Reason = %q, want ledger_unavailable", res.Reason)
	}
	if time.Since(start) > time.Second {
		t.Fatal("ledger timeout was not applied")
	}
}

func TestDispense_RecheckBalance(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l, func(c *Config) { c.RecheckBalance = true })

	if res := d.Dispense(context.Background(), recipient, nil); !res.Succeeded {
		t.Fatalf("result = %+v", res)
	}
	// faucet, recipient, faucet again
	if b, _, _ := l.counts(); b != 3 {
		t.Fatalf("balance calls = %d, want 3", b)
	}
}

func TestDispense_ConcurrentCallsAreIndependent(t *testing.T) {
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Dispense(context.Background(), recipient, nil)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r.Succeeded == (r.Reason != "") {
			t.Fatalf("result %d violates success/reason exclusivity: %+v", i, r)
		}
	}
}

func TestBalance_LowFlag(t *testing.T) {
	l := newFakeLedger(4 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	snap, err := d.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !snap.IsLow || snap.Total != 4*ledger.MistPerSUI {
		t.Fatalf("snap = %+v, want low 4 SUI", snap)
	}

	l.setBalance(faucetAddr, 5*ledger.MistPerSUI)
	snap, _ = d.Balance(context.Background())
	if snap.IsLow {
		t.Fatal("exactly the threshold is not low")
	}
}

func TestHealth(t *testing.T) {
	l := newFakeLedger(10 * ledger.MistPerSUI)
	d := newTestDispenser(t, l)

	h := d.Health(context.Background())
	if h.Status != Healthy || h.FaucetBalance == nil || *h.FaucetBalance != 10*ledger.MistPerSUI {
		t.Fatalf("health = %+v", h)
	}

	l.probeErr = errors.New("down")
	h = d.Health(context.Background())
	if h.Status != Unhealthy || h.FaucetBalance != nil {
		t.Fatalf("health = %+v, want unhealthy without balance", h)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	mist     uint64
	ops      map[string]int
}

func (r *recordingMetrics) IncDisbursement(outcome string) {
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

func (r *recordingMetrics) AddDisbursedMist(amount uint64) {
	r.mu.Lock()
	r.mist += amount
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveLedgerCall(op string, _ float64, _ bool) {
	r.mu.Lock()
	r.ops[op]++
	r.mu.Unlock()
}

func TestDispense_RecordsMetrics(t *testing.T) {
	m := &recordingMetrics{outcomes: map[string]int{}, ops: map[string]int{}}
	l := newFakeLedger(100 * ledger.MistPerSUI)
	d, err := NewDispenser(DispenserOptions{Ledger: l, Config: DefaultConfig(), Metrics: m})
	if err != nil {
		t.Fatalf("NewDispenser: %v", err)
	}

	d.Dispense(context.Background(), recipient, nil)
	d.Dispense(context.Background(), "nope", nil)

	if m.outcomes["success"] != 1 || m.outcomes[string(ReasonMalformedAddress)] != 1 {
		t.Fatalf("outcomes = %v", m.outcomes)
	}
	if m.mist != ledger.MistPerSUI {
		t.Fatalf("disbursed = %d", m.mist)
	}
	if m.ops["transfer"] != 1 || m.ops["faucet_balance"] != 1 || m.ops["recipient_balance"] != 1 {
		t.Fatalf("ops = %v", m.ops)
	}
}

func TestNewDispenser_Validation(t *testing.T) {
	if _, err := NewDispenser(DispenserOptions{Config: DefaultConfig()}); err == nil {
		t.Fatal("expected error without ledger")
	}
	cfg := DefaultConfig()
	cfg.MinAmount = 10 * ledger.MistPerSUI
	if _, err := NewDispenser(DispenserOptions{Ledger: newFakeLedger(0), Config: cfg}); err == nil {
		t.Fatal("expected error when min exceeds max")
	}
}

func TestReason_CallerFixable(t *testing.T) {
	if !ReasonMalformedAddress.CallerFixable() || !ReasonRecipientAlreadyFunded.CallerFixable() {
		t.Error("caller reasons should be fixable")
	}
	if ReasonLedgerUnavailable.CallerFixable() || ReasonTransferExecutionFailed.CallerFixable() {
		t.Error("ledger reasons should not be caller fixable")
	}
}
