// Package httpmw holds the request middleware in front of the faucet API.
//
// httpserver composes it outermost first: security headers, recover, request id,
// client ip, the burst shield, otelhttp, network and trace headers, metrics and
// the request logger. CORS, compression, route annotation, the access log and
// the body cap run inside the chi router where the route pattern is known.
//
// The client ip doubles as the faucet's per-IP quota key, so forwarded headers
// are trusted only from private peers and IPv6 callers collapse to a prefix.
// Access logs carry no query strings, bodies or wallet addresses.
package httpmw
