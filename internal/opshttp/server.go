// Package opshttp serves the admin listener: metrics, probes, pprof and the
// faucet operator routes. Nothing on it is reachable from public peers.
package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/health"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

// pprof profile and trace endpoints stream for up to 30s by default
const writeTimeout = 60 * time.Second

func NewHandler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	r := chi.NewRouter()
	if opts.UseRecoverMW {
		r.Use(httpmw.Recover(L, opts.OnPanic))
	}
	r.Use(httpmw.WithLogger(L))

	if opts.Health != nil {
		r.Get("/healthz", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/readyz", health.ReadyzHandler(opts.Readiness))
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}
	if opts.AdminRoutes != nil {
		opts.AdminRoutes(r)
	}
	return nonPublicOnly(L, r)
}

// Start serves the admin handler in the background and returns its stop func.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if opts == nil {
		opts = &Options{}
	}
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	srv := httpserver.NewServer(fmt.Sprintf(":%d", port), NewHandler(L, opts))
	srv.WriteTimeout = writeTimeout
	return httpserver.Serve(ctx, L, "ops http", srv, 5*time.Second)
}

// peerAddr parses the TCP peer only. Forwarded headers are never consulted.
func peerAddr(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func nonPublic(ip netip.Addr) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func nonPublicOnly(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := peerAddr(r.RemoteAddr)
		if !ok || !nonPublic(ip) {
			L.Warn(r.Context(), "ops request rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
