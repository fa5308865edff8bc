// Package ratelimit decides whether a faucet request may proceed.
//
// Two fixed-window gates are composed by [Limiter]: one keyed by client IP and one
// keyed by normalized wallet address. Each gate counts requests in a window that
// opens at the first request for a key and closes a fixed duration later. The
// check and the increment happen as one step inside the [Store], so concurrent
// requests for the same key can never both observe a free slot.
//
// [MemoryStore] keeps windows in process memory and loses them on restart.
// [RedisStore] keeps them in Redis so several replicas share one budget.
//
// [Shield] is a separate token bucket per IP applied to every public route. It
// absorbs floods before they reach handlers and is not part of the faucet quota.
package ratelimit
