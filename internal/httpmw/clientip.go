package httpmw

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures how the client address, and so the faucet's per-IP quota
// key, is derived.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single ALB
	// (rightmost XFF entry), 2 = CDN + ALB (second from end), etc.
	TrustedHops int

	// IPv6Prefix collapses IPv6 clients to their enclosing prefix (64 groups a
	// typical end-site allocation). 0 or 128 keeps the full address.
	IPv6Prefix int
}

// ClientIP extracts the client IP with TrustedHops=0, ignoring X-Forwarded-For.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that stores the client IP in the request context.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := quotaKey(extractRealClientAddr(r, opts.TrustedHops), opts.IPv6Prefix)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// extractRealClientAddr returns the peer address unless the peer is a private or
// loopback proxy and trustedHops > 0, in which case it takes the Nth-from-end entry of
// X-Forwarded-For. Forwarded headers are stripped whenever they are not trusted.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		// no port (unix socket, tests): try a bare address
		addr, aerr := netip.ParseAddr(r.RemoteAddr)
		if aerr != nil {
			return "0.0.0.0"
		}
		peer = netip.AddrPortFrom(addr, 0)
	}
	clientAddr := peer.Addr().Unmap()

	if !(clientAddr.IsPrivate() || clientAddr.IsLoopback()) || trustedHops <= 0 {
		stripForwarded(r)
		return clientAddr.String()
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return clientAddr.String()
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies: misconfiguration or spoofing, fail closed
		stripForwarded(r)
		return clientAddr.String()
	}
	if candidate, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return candidate.Unmap().String()
	}
	return clientAddr.String()
}

// quotaKey masks IPv6 addresses to prefix bits. IPv4 and unparsable values pass through.
func quotaKey(ip string, prefix int) string {
	if prefix <= 0 || prefix >= 128 {
		return ip
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is6() {
		return ip
	}
	p, err := addr.WithZone("").Prefix(prefix)
	if err != nil {
		return ip
	}
	return p.String()
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
