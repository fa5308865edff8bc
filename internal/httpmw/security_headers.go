package httpmw

import "net/http"

// CSRF protection is not applicable: the faucet API carries no cookies or sessions and
// browsers reach it only through CORS.

// securityHeaders is served on every public response. The API returns JSON only, so
// nothing may load, frame, or be cached.
var securityHeaders = [][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload"},
	{"Content-Security-Policy", "default-src 'none'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	// the wallet UI reads responses cross-origin
	{"Cross-Origin-Resource-Policy", "cross-origin"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets securityHeaders before the handler runs so error paths carry them too.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
