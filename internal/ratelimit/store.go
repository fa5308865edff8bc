package ratelimit

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// Count is the number of requests admitted in the current window, including this one when allowed.
	Count int
	Limit int
	// ResetAt is when the current window closes. Zero when no window exists.
	ResetAt time.Time
	// RetryAfter is how long the caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return ceilSeconds(d.RetryAfter)
}

// Entry is a live window for one key.
type Entry struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Store holds fixed-window counters. Admit must check and increment atomically.
type Store interface {
	// Peek evaluates key like Admit would at time now without recording anything.
	// An allowed Decision carries the count the request would take.
	Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)

	// Admit evaluates key against limit requests per window at time now and records the request when allowed.
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)

	// Entries returns the windows still open at now. It must not mutate state.
	Entries(ctx context.Context, now time.Time) ([]Entry, error)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// sortEntries orders entries by closing time, then key.
func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int {
		if c := a.ResetAt.Compare(b.ResetAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
}
