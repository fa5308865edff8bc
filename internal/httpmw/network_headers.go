package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NetworkInfo identifies the ledger network and faucet account behind the API.
type NetworkInfo interface {
	Network() string
	FaucetAddress() string
}

// NetworkHeaders adds X-Faucet-Network to every response and tags the
// current span with the network and faucet address.
func NetworkHeaders(info NetworkInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				n := info.Network()
				if n != "" {
					w.Header().Set("X-Faucet-Network", n)
				}
				if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
					if n != "" {
						span.SetAttributes(attribute.String("faucet.network", n))
					}
					if a := info.FaucetAddress(); a != "" {
						span.SetAttributes(attribute.String("faucet.address", a))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
