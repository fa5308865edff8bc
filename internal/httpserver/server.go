package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/health"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
)

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

// NewHandler builds the public faucet handler: chi routes wrapped in the
// request middleware chain. main owns the *http.Server for graceful shutdown.
func NewHandler(opts Options) http.Handler {
	opts = opts.withDefaults()
	return wrap(routes(opts), opts)
}

// routes registers probes and API routes along with the router-level
// middleware that needs the chi route context.
func routes(opts Options) chi.Router {
	r := chi.NewRouter()

	// preflights answered before routing so OPTIONS never hits MethodNotAllowed
	r.Use(httpmw.CORS(opts.CORS))
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(opts.MaxBodyBytes))

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}
	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}
	if opts.Fallback != nil {
		r.NotFound(opts.Fallback.ServeHTTP)
		r.MethodNotAllowed(opts.Fallback.ServeHTTP)
	}
	return r
}

// wrap applies the outer chain, innermost first. The resulting order for a
// request is: security headers, recover, request id, client ip, burst shield,
// otelhttp, network headers, trace headers, metrics, logger, router.
func wrap(h http.Handler, opts Options) http.Handler {
	h = httpmw.WithLogger(opts.Logger)(h)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	if opts.NetworkInfo != nil {
		h = httpmw.NetworkHeaders(opts.NetworkInfo)(h)
	}

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(traced),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// renamed to the route pattern by AnnotateHTTPRoute
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// the shield must see the resolved client ip
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}
	return httpmw.SecurityHeaders(h)
}

// traced skips probes and browser noise.
func traced(r *http.Request) bool {
	p := r.URL.Path
	if strings.HasPrefix(p, "/-/") {
		return false
	}
	return p != "/favicon.ico" && p != "/robots.txt"
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

func addrFor(port int) string {
	return fmt.Sprintf(":%d", port)
}
