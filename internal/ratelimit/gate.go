package ratelimit

import (
	"context"
	"time"
)

// Gate is one fixed-window admission rule: at most Limit requests per key per Window.
type Gate struct {
	name   string
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

type GateOption func(*Gate)

// WithClock replaces time.Now, used by tests to step through windows.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate returns a gate backed by store. name is used in metrics and logs.
func NewGate(name string, store Store, limit int, window time.Duration, opts ...GateOption) *Gate {
	g := &Gate{
		name:   name,
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) Name() string          { return g.name }
func (g *Gate) Limit() int            { return g.limit }
func (g *Gate) Window() time.Duration { return g.window }

// CheckAndAdmit records a request for key if the current window has room.
// Check and increment are a single store operation.
func (g *Gate) CheckAndAdmit(ctx context.Context, key string) (Decision, error) {
	return g.store.Admit(ctx, key, g.limit, g.window, g.now())
}

// check reports what CheckAndAdmit would decide without recording the request.
func (g *Gate) check(ctx context.Context, key string) (Decision, error) {
	return g.store.Peek(ctx, key, g.limit, g.window, g.now())
}

func (g *Gate) slot(key string) pairSlot {
	return pairSlot{key: key, limit: g.limit, window: g.window, now: g.now()}
}

// Entries lists the keys with an open window.
func (g *Gate) Entries(ctx context.Context) ([]Entry, error) {
	return g.store.Entries(ctx, g.now())
}
