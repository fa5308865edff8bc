package faucethttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/faucet"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ratelimit"
)

const (
	faucetAddr = "0xfa0000000000000000000000000000000000000000000000000000000000cafe"
	walletA    = "0x1111111111111111111111111111111111111111111111111111111111111111"
	walletB    = "0x2222222222222222222222222222222222222222222222222222222222222222"
	testToken  = "s3cret-admin-token"
	testDigest = "9XyZabcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMN"
)

// fakeLedger is an in-memory ledger.Client.
type fakeLedger struct {
	mu sync.Mutex

	balances map[string]uint64
	txs      map[string]ledger.TransactionDetails

	balanceErr  error
	transferErr error
	probeErr    error
	topUpErr    error
	txErr       error
	status      ledger.Status

	transferCalls int
	topUpCalls    int
	panicOnXfer   bool
}

func newFakeLedger(faucetBalance uint64) *fakeLedger {
	return &fakeLedger{
		balances: map[string]uint64{faucetAddr: faucetBalance},
		txs:      map[string]ledger.TransactionDetails{},
		status:   ledger.StatusSuccess,
	}
}

func (f *fakeLedger) Address() string { return faucetAddr }

func (f *fakeLedger) Balance(_ context.Context, addr string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[addr], nil
}

func (f *fakeLedger) Transfer(ctx context.Context, to string, amount uint64) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	if f.panicOnXfer {
		panic("boom")
	}
	if f.transferErr != nil {
		return ledger.Receipt{}, f.transferErr
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	if f.status == ledger.StatusSuccess {
		f.balances[faucetAddr] -= amount
		f.balances[to] += amount
	}
	return ledger.Receipt{Status: f.status, Digest: testDigest, GasUsed: 1996}, nil
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
	if f.topUpErr != nil {
		return f.topUpErr
	}
	f.balances[recipient] += 10 * ledger.MistPerSUI
	return nil
}

func (f *fakeLedger) Transaction(_ context.Context, digest string) (ledger.TransactionDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txErr != nil {
		return ledger.TransactionDetails{}, f.txErr
	}
	tx, ok := f.txs[digest]
	if !ok {
		return ledger.TransactionDetails{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (f *fakeLedger) transfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferCalls
}

// testClock is a manually advanced clock shared by both gates.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingNotifier records monitor nudges.
type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type harness struct {
	api      *API
	handler  http.Handler
	ledger   *fakeLedger
	clock    *testClock
	notifier *countingNotifier
}

// newHarness wires a real Dispenser and Limiter over the fake ledger.
func newHarness(t *testing.T, f *fakeLedger, network ledger.Network) *harness {
	t.Helper()

	d, err := faucet.NewDispenser(faucet.DispenserOptions{Ledger: f, Config: faucet.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewDispenser: %v", err)
	}

	clock := newTestClock()
	ipGate := ratelimit.NewGate("ip", ratelimit.NewMemoryStore(), 5, 15*time.Minute, ratelimit.WithClock(clock.Now))
	walletGate := ratelimit.NewGate("wallet", ratelimit.NewMemoryStore(), 5, 24*time.Hour, ratelimit.WithClock(clock.Now))
	notifier := &countingNotifier{}

	api, err := NewAPI(Options{
		Dispenser:    d,
		Limiter:      ratelimit.NewLimiter(ipGate, walletGate),
		Transactions: f,
		Refiller:     faucet.NewRefiller(faucet.RefillerOptions{Ledger: f, Network: network}),
		Monitor:      notifier,
		Network:      network,
		AdminToken:   testToken,
	})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	r := chi.NewRouter()
	api.RegisterRoutes(r)
	api.RegisterAdminRoutes(r)
	r.NotFound(api.Fallback().ServeHTTP)
	r.MethodNotAllowed(api.Fallback().ServeHTTP)

	return &harness{api: api, handler: r, ledger: f, clock: clock, notifier: notifier}
}

func (h *harness) do(method, path, body, remoteIP string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if remoteIP != "" {
		req.RemoteAddr = remoteIP + ":41000"
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) request(wallet, ip string) *httptest.ResponseRecorder {
	return h.do(http.MethodPost, "/api/faucet/request", `{"address":"`+wallet+`"}`, ip)
}
