// Package health provides readiness and liveness probes for the ops listener.
//
// Probes compose with [All]. [Timeout] bounds a probe that calls the sui fullnode and
// [Cached] keeps a load balancer polling /readyz from turning into one RPC per poll.
// [ShutdownGate] fails readiness as soon as drain starts.
package health
