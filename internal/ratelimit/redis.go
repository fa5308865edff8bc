package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// admitScript is the check-and-increment for one key. The hash holds count and reset (unix ms).
// A missing or expired hash opens a new window anchored at now.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "count", "reset")
local count = tonumber(state[1]) or 0
local reset = tonumber(state[2]) or 0

if count == 0 or now_ms >= reset then
  if limit < 1 then
    return {0, 0, 0}
  end
  reset = now_ms + window_ms
  redis.call("HSET", key, "count", 1, "reset", reset)
  redis.call("PEXPIREAT", key, reset)
  return {1, 1, reset}
end

if count < limit then
  count = redis.call("HINCRBY", key, "count", 1)
  return {1, count, reset}
end

return {0, count, reset}
`)

// admitPairScript charges KEYS[1] and KEYS[2] together or not at all. KEYS[1] is
// checked first and a denial there returns before KEYS[2] is read. The reply is
// allowed, count, reset for each key; a key that was not charged reports its current state.
var admitPairScript = redis.NewScript(`
local function load(key, now_ms)
  local state = redis.call("HMGET", key, "count", "reset")
  local count = tonumber(state[1]) or 0
  local reset = tonumber(state[2]) or 0
  if count == 0 or now_ms >= reset then
    return 0, 0
  end
  return count, reset
end

local function charge(key, count, reset, window_ms, now_ms)
  if count == 0 then
    reset = now_ms + window_ms
    redis.call("HSET", key, "count", 1, "reset", reset)
    redis.call("PEXPIREAT", key, reset)
    return 1, reset
  end
  return redis.call("HINCRBY", key, "count", 1), reset
end

local a_limit, a_window, a_now = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local b_limit, b_window, b_now = tonumber(ARGV[4]), tonumber(ARGV[5]), tonumber(ARGV[6])

local a_count, a_reset = load(KEYS[1], a_now)
if a_count >= a_limit then
  return {0, a_count, a_reset, 0, 0, 0}
end

local b_count, b_reset = load(KEYS[2], b_now)
if b_count >= b_limit then
  return {1, a_count, a_reset, 0, b_count, b_reset}
end

a_count, a_reset = charge(KEYS[1], a_count, a_reset, a_window, a_now)
b_count, b_reset = charge(KEYS[2], b_count, b_reset, b_window, b_now)
return {1, a_count, a_reset, 1, b_count, b_reset}
`)

// pairSlot is one side of a paired admission.
type pairSlot struct {
	key    string
	limit  int
	window time.Duration
	now    time.Time
}

// RedisStore keeps windows in Redis hashes under prefix so several replicas share a budget.
// Keys expire on their own at the end of their window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store writing keys as prefix+key. Use a distinct prefix per gate.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Peek reads the window without writing. The answer can be stale by the time it returns.
func (s *RedisStore) Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "count", "reset").Result()
	if err != nil {
		return Decision{}, xerrors.Wrapf(err, "redis peek %s", s.prefix)
	}
	var count, reset int64
	if len(vals) == 2 {
		count, reset = toInt64(vals[0]), toInt64(vals[1])
	}
	if count == 0 || now.UnixMilli() >= reset {
		if limit < 1 {
			return decision(false, 0, 0, limit, window, now), nil
		}
		return decision(true, 1, now.Add(window).UnixMilli(), limit, window, now), nil
	}
	if count < int64(limit) {
		return decision(true, count+1, reset, limit, window, now), nil
	}
	return decision(false, count, reset, limit, window, now), nil
}

func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	res, err := admitScript.Run(ctx, s.client, []string{s.prefix + key}, limit, window.Milliseconds(), now.UnixMilli()).Result()
	if err != nil {
		return Decision{}, xerrors.Wrapf(err, "redis admit %s", s.prefix)
	}
	items, ok := res.([]any)
	if !ok || len(items) < 3 {
		return Decision{}, xerrors.Newf("redis admit %s: unexpected reply %T", s.prefix, res)
	}
	return decision(toInt64(items[0]) == 1, toInt64(items[1]), toInt64(items[2]), limit, window, now), nil
}

// admitPair runs a in s and b in other as one script. Both stores must share a client,
// and on Redis Cluster both prefixes need the same hash tag.
func (s *RedisStore) admitPair(ctx context.Context, a pairSlot, other *RedisStore, b pairSlot) (Decision, Decision, error) {
	keys := []string{s.prefix + a.key, other.prefix + b.key}
	res, err := admitPairScript.Run(ctx, s.client, keys,
		a.limit, a.window.Milliseconds(), a.now.UnixMilli(),
		b.limit, b.window.Milliseconds(), b.now.UnixMilli(),
	).Result()
	if err != nil {
		return Decision{}, Decision{}, xerrors.Wrapf(err, "redis admit %s %s", s.prefix, other.prefix)
	}
	items, ok := res.([]any)
	if !ok || len(items) < 6 {
		return Decision{}, Decision{}, xerrors.Newf("redis admit %s %s: unexpected reply %T", s.prefix, other.prefix, res)
	}
	ad := decision(toInt64(items[0]) == 1, toInt64(items[1]), toInt64(items[2]), a.limit, a.window, a.now)
	bd := decision(toInt64(items[3]) == 1, toInt64(items[4]), toInt64(items[5]), b.limit, b.window, b.now)
	return ad, bd, nil
}

// redisPair returns both stores when they can be charged by one script.
func redisPair(a, b Store) (*RedisStore, *RedisStore, bool) {
	ra, ok := a.(*RedisStore)
	if !ok {
		return nil, nil, false
	}
	rb, ok := b.(*RedisStore)
	if !ok || ra.client != rb.client {
		return nil, nil, false
	}
	return ra, rb, true
}

func decision(allowed bool, count, resetMs int64, limit int, window time.Duration, now time.Time) Decision {
	d := Decision{Allowed: allowed, Count: int(count), Limit: limit}
	if resetMs > 0 {
		d.ResetAt = time.UnixMilli(resetMs)
	}
	if !allowed {
		if d.ResetAt.IsZero() {
			d.RetryAfter = window
		} else {
			d.RetryAfter = d.ResetAt.Sub(now)
		}
	}
	return d
}

// Entries scans the prefix. It is meant for operator status pages, not the request path.
func (s *RedisStore) Entries(ctx context.Context, now time.Time) ([]Entry, error) {
	var out []Entry
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return nil, xerrors.Wrapf(err, "redis scan %s", s.prefix)
		}
		for _, k := range keys {
			vals, err := s.client.HMGet(ctx, k, "count", "reset").Result()
			if err != nil {
				return nil, xerrors.Wrapf(err, "redis hmget %s", k)
			}
			if len(vals) < 2 {
				continue
			}
			count := int(toInt64(vals[0]))
			resetAt := time.UnixMilli(toInt64(vals[1]))
			if count == 0 || !now.Before(resetAt) {
				continue
			}
			out = append(out, Entry{
				Key:     strings.TrimPrefix(k, s.prefix),
				Count:   count,
				ResetAt: resetAt,
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortEntries(out)
	return out, nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}
