package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a process-local Store guarded by a single mutex.
// Expired windows are swept lazily on access; there is no background goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window

	// nextSweep is the earliest resetAt among stored windows; sweeping before then finds nothing
	nextSweep time.Time

	// maxEntries caps the number of tracked keys, 0 disables the cap
	maxEntries int
	atCapacity bool

	// OnCapacity is called once each time the store fills up and starts rejecting new keys
	OnCapacity func()
}

type MemoryOption func(*MemoryStore)

// WithMaxEntries caps how many keys the store tracks. New keys are denied while full,
// existing keys keep their windows.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxEntries = n
	}
}

// WithOnCapacity sets a callback fired on the transition into the full state.
func WithOnCapacity(fn func()) MemoryOption {
	return func(s *MemoryStore) {
		s.OnCapacity = fn
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows:    make(map[string]*window),
		maxEntries: 100000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Peek(_ context.Context, key string, limit int, win time.Duration, now time.Time) (Decision, error) {
	return s.eval(key, limit, win, now, false), nil
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, win time.Duration, now time.Time) (Decision, error) {
	return s.eval(key, limit, win, now, true), nil
}

func (s *MemoryStore) eval(key string, limit int, win time.Duration, now time.Time, commit bool) Decision {
	s.mu.Lock()
	d, full := s.evalLocked(key, limit, win, now, commit)
	s.mu.Unlock()

	// hooks run outside the lock
	if full && s.OnCapacity != nil {
		s.OnCapacity()
	}
	return d
}

// evalLocked is the check-and-increment; with commit false it only checks.
// full is true only on the first rejection after filling up.
func (s *MemoryStore) evalLocked(key string, limit int, win time.Duration, now time.Time, commit bool) (d Decision, full bool) {
	s.sweepLocked(now)

	w, ok := s.windows[key]
	if !ok {
		if limit < 1 {
			return Decision{Limit: limit, RetryAfter: win}, false
		}
		if s.maxEntries > 0 && len(s.windows) >= s.maxEntries {
			first := !s.atCapacity
			s.atCapacity = true
			return Decision{Limit: limit, RetryAfter: s.nextSweep.Sub(now)}, first
		}
		resetAt := now.Add(win)
		if commit {
			s.windows[key] = &window{count: 1, resetAt: resetAt}
			if s.nextSweep.IsZero() || resetAt.Before(s.nextSweep) {
				s.nextSweep = resetAt
			}
		}
		return Decision{Allowed: true, Count: 1, Limit: limit, ResetAt: resetAt}, false
	}

	if w.count < limit {
		count := w.count + 1
		if commit {
			w.count = count
		}
		return Decision{Allowed: true, Count: count, Limit: limit, ResetAt: w.resetAt}, false
	}

	return Decision{
		Count:      w.count,
		Limit:      limit,
		ResetAt:    w.resetAt,
		RetryAfter: w.resetAt.Sub(now),
	}, false
}

// sweepLocked deletes windows with now >= resetAt. Keys are collected first and deleted after the scan.
func (s *MemoryStore) sweepLocked(now time.Time) {
	if s.nextSweep.IsZero() || now.Before(s.nextSweep) {
		return
	}

	expired := make([]string, 0, 8)
	var next time.Time
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			expired = append(expired, k)
			continue
		}
		if next.IsZero() || w.resetAt.Before(next) {
			next = w.resetAt
		}
	}
	for _, k := range expired {
		delete(s.windows, k)
	}
	s.nextSweep = next

	if s.maxEntries <= 0 || len(s.windows) < s.maxEntries {
		s.atCapacity = false
	}
}

func (s *MemoryStore) Entries(_ context.Context, now time.Time) ([]Entry, error) {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.windows))
	for k, w := range s.windows {
		if now.Before(w.resetAt) {
			out = append(out, Entry{Key: k, Count: w.count, ResetAt: w.resetAt})
		}
	}
	s.mu.Unlock()

	sortEntries(out)
	return out, nil
}
