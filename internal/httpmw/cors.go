package httpmw

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSOptions configures which browser origin may call the API.
type CORSOptions struct {
	// Origin is the single allowed origin ("https://wallet.example") or "*".
	// Empty disables CORS handling entirely.
	Origin string
	// Methods defaults to GET, POST, OPTIONS.
	Methods []string
	// Headers defaults to Content-Type, Authorization.
	Headers []string
	// MaxAge is the preflight cache lifetime; defaults to 10 minutes.
	MaxAge time.Duration
	// Expose lists response headers the browser may read, e.g. Retry-After.
	Expose []string
}

// CORS answers preflight requests and tags responses for the configured origin.
// Requests from other origins pass through untouched; the browser enforces the rest.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	if opts.Origin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := opts.Headers
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization"}
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headers, ", ")
	exposeHeaders := strings.Join(opts.Expose, ", ")
	maxAgeSecs := strconv.Itoa(int(maxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			allowed := origin != "" && (opts.Origin == "*" || strings.EqualFold(origin, opts.Origin))
			if !allowed {
				next.ServeHTTP(w, r)
				return
			}

			if opts.Origin == "*" {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", opts.Origin)
			}
			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			// preflight
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Max-Age", maxAgeSecs)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
