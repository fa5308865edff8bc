package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// GateKind names which gate denied a request.
type GateKind string

const (
	GateIP     GateKind = "ip"
	GateWallet GateKind = "wallet"
)

// Verdict is the combined result of both gates.
type Verdict struct {
	Allowed bool
	// DeniedBy is empty when allowed.
	DeniedBy GateKind
	// Decision is from the denying gate, or from the wallet gate when allowed.
	Decision Decision
}

// RetryAfterSeconds is the whole number of seconds to put in Retry-After.
func (v Verdict) RetryAfterSeconds() int {
	if v.Allowed {
		return 0
	}
	if s := v.Decision.RetryAfterSeconds(); s > 0 {
		return s
	}
	return 1
}

// Limiter composes the per-IP gate and the per-wallet gate. A request is charged
// to both gates or to neither. Two Redis stores on one client are charged by a
// single script; any other pair is serialized by mu, so those stores must only be
// written through this Limiter.
type Limiter struct {
	ip     *Gate
	wallet *Gate

	mu sync.Mutex

	// OnDenied is called for every denial with the gate that denied it
	OnDenied func(kind GateKind)
}

type LimiterOption func(*Limiter)

// WithOnGateDenied sets a callback for every denial, used for metrics.
func WithOnGateDenied(fn func(kind GateKind)) LimiterOption {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

func NewLimiter(ip, wallet *Gate, opts ...LimiterOption) *Limiter {
	l := &Limiter{ip: ip, wallet: wallet}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) IP() *Gate     { return l.ip }
func (l *Limiter) Wallet() *Gate { return l.wallet }

// Admit evaluates the IP gate and then, only if it has room, the wallet gate.
// wallet must already be normalized. Counters change only when both gates admit.
func (l *Limiter) Admit(ctx context.Context, ip, wallet string) (Verdict, error) {
	ipd, wd, err := l.admitBoth(ctx, ip, wallet)
	if err != nil {
		return Verdict{}, err
	}
	if !ipd.Allowed {
		l.denied(GateIP)
		return Verdict{DeniedBy: GateIP, Decision: ipd}, nil
	}
	if !wd.Allowed {
		l.denied(GateWallet)
		return Verdict{DeniedBy: GateWallet, Decision: wd}, nil
	}
	return Verdict{Allowed: true, Decision: wd}, nil
}

func (l *Limiter) admitBoth(ctx context.Context, ip, wallet string) (ipd, wd Decision, err error) {
	if a, b, ok := redisPair(l.ip.store, l.wallet.store); ok {
		ipd, wd, err = a.admitPair(ctx, l.ip.slot(ip), b, l.wallet.slot(wallet))
		return ipd, wd, xerrors.Wrap(err, "ip and wallet gates")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ipd, err = l.ip.check(ctx, ip); err != nil || !ipd.Allowed {
		return ipd, wd, xerrors.Wrap(err, "ip gate")
	}
	if wd, err = l.wallet.check(ctx, wallet); err != nil || !wd.Allowed {
		return ipd, wd, xerrors.Wrap(err, "wallet gate")
	}

	// both have room and nothing else writes these stores while mu is held
	if ipd, err = l.ip.CheckAndAdmit(ctx, ip); err != nil || !ipd.Allowed {
		return ipd, wd, xerrors.Wrap(err, "ip gate")
	}
	wd, err = l.wallet.CheckAndAdmit(ctx, wallet)
	return ipd, wd, xerrors.Wrap(err, "wallet gate")
}

func (l *Limiter) denied(kind GateKind) {
	if l.OnDenied != nil {
		l.OnDenied(kind)
	}
}

// GateStatus is the configuration and load of one gate.
type GateStatus struct {
	Window      time.Duration
	MaxRequests int
	ActiveCount int
}

// WalletUsage is one open wallet window. Key is the full normalized address.
type WalletUsage struct {
	Key      string
	Count    int
	ResetsIn time.Duration
}

// Status is a read-only snapshot of both gates.
type Status struct {
	IP            GateStatus
	Wallet        GateStatus
	ActiveWallets []WalletUsage
}

// Status reports both gates without mutating either.
func (l *Limiter) Status(ctx context.Context) (Status, error) {
	ipEntries, err := l.ip.Entries(ctx)
	if err != nil {
		return Status{}, xerrors.Wrap(err, "ip gate entries")
	}
	walletEntries, err := l.wallet.Entries(ctx)
	if err != nil {
		return Status{}, xerrors.Wrap(err, "wallet gate entries")
	}

	now := l.wallet.now()
	wallets := make([]WalletUsage, 0, len(walletEntries))
	for _, e := range walletEntries {
		wallets = append(wallets, WalletUsage{
			Key:      e.Key,
			Count:    e.Count,
			ResetsIn: e.ResetAt.Sub(now),
		})
	}

	return Status{
		IP: GateStatus{
			Window:      l.ip.window,
			MaxRequests: l.ip.limit,
			ActiveCount: len(ipEntries),
		},
		Wallet: GateStatus{
			Window:      l.wallet.window,
			MaxRequests: l.wallet.limit,
			ActiveCount: len(walletEntries),
		},
		ActiveWallets: wallets,
	}, nil
}
