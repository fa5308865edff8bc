package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
)

// visitor tracks a single IP's bucket and last activity
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether we have already emitted the first-denial log
	// resets when the entry is evicted and re-created
	logged bool
}

// Shield is a per-IP token bucket in front of every public route.
//
// It protects the process from a single IP flooding it and gives one log line per
// offender. It does not count toward the faucet quota and does not help against
// distributed floods. Not shared between instances.
type Shield struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// requests per second and burst ceiling
	perSecond rate.Limit
	burst     int

	// how long an idle IP stays in the map before cleanup evicts it
	ttl time.Duration

	// maxVisitors caps the map, new IPs are denied while full
	maxVisitors int
	atCapacity  bool

	// OnFirstDenied is called once per visitor when they first get limited, ip has no port
	OnFirstDenied func(ip string)

	// OnDenied is called on every denied request
	OnDenied func(ip string)

	// OnCapacity is called once each time the visitor map fills up
	OnCapacity func()
}

type ShieldOption func(*Shield)

// WithRate sets the bucket size and refill rate.
// WithRate(10, 50) allows 50 requests at once, then refills at 10 per second.
func WithRate(perSecond float64, burst int) ShieldOption {
	return func(s *Shield) {
		s.perSecond = rate.Limit(perSecond)
		s.burst = burst
	}
}

// WithTTL controls how long an idle IP stays in the map before cleanup.
func WithTTL(d time.Duration) ShieldOption {
	return func(s *Shield) {
		s.ttl = d
	}
}

// WithMaxVisitors caps the number of tracked IPs.
func WithMaxVisitors(n int) ShieldOption {
	return func(s *Shield) {
		s.maxVisitors = n
	}
}

// WithOnFirstDenied sets a callback for the first denial per visitor, used for logging.
func WithOnFirstDenied(fn func(ip string)) ShieldOption {
	return func(s *Shield) {
		s.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request, used for counters.
func WithOnDenied(fn func(ip string)) ShieldOption {
	return func(s *Shield) {
		s.OnDenied = fn
	}
}

// WithOnVisitorCapacity sets a callback fired when the visitor map fills up.
func WithOnVisitorCapacity(fn func()) ShieldOption {
	return func(s *Shield) {
		s.OnCapacity = fn
	}
}

// NewShield creates a Shield and starts its cleanup goroutine, which stops when ctx is done.
func NewShield(ctx context.Context, opts ...ShieldOption) *Shield {
	s := &Shield{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(s)
	}
	go s.cleanup(ctx)
	return s
}

// allow reports whether ip is within its bucket, creating the visitor on first sight.
func (s *Shield) allow(ip string) bool {
	s.mu.Lock()
	v, exists := s.visitors[ip]
	if !exists {
		if s.maxVisitors > 0 && len(s.visitors) >= s.maxVisitors {
			first := !s.atCapacity
			s.atCapacity = true
			s.mu.Unlock()
			if first && s.OnCapacity != nil {
				s.OnCapacity()
			}
			if s.OnDenied != nil {
				s.OnDenied(ip)
			}
			return false
		}
		v = &visitor{
			limiter: rate.NewLimiter(s.perSecond, s.burst),
		}
		s.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()

	firstDenial := !allowed && !v.logged
	if firstDenial {
		v.logged = true
	}
	// hooks may do slow work, release first
	s.mu.Unlock()

	if firstDenial && s.OnFirstDenied != nil {
		s.OnFirstDenied(ip)
	}
	if !allowed && s.OnDenied != nil {
		s.OnDenied(ip)
	}
	return allowed
}

// cleanup evicts visitors not seen within the TTL, every TTL/2.
func (s *Shield) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			stale := make([]string, 0, 8)
			for ip, v := range s.visitors {
				if now.Sub(v.lastSeen) > s.ttl {
					stale = append(stale, ip)
				}
			}
			for _, ip := range stale {
				delete(s.visitors, ip)
			}
			if s.maxVisitors <= 0 || len(s.visitors) < s.maxVisitors {
				s.atCapacity = false
			}
			s.mu.Unlock()
		}
	}
}

// retryAfter is the time for one token to refill, at least one second.
func (s *Shield) retryAfter() int {
	if s.perSecond <= 0 || s.perSecond == rate.Inf {
		return 1
	}
	sec := int(math.Ceil(1 / float64(s.perSecond)))
	if sec < 1 {
		return 1
	}
	return sec
}

type shieldBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware rejects requests over the per-IP bucket with 429 and the faucet error envelope.
func (s *Shield) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !s.allow(ip) {
			after := s.retryAfter()
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", strconv.Itoa(after))
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about remaining budget
			_ = json.NewEncoder(w).Encode(shieldBody{
				Message:    "Too many requests",
				Error:      "too_many_requests",
				RetryAfter: after,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
