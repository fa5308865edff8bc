package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/health"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

const (
	defaultPort         = 8080
	defaultMaxBodyBytes = 4 << 10 // an address and an amount
	defaultGrace        = 5 * time.Second
)

type Options struct {
	Logger log.Logger
	Port   int

	// Probes served at /-/healthy and /-/ready, skipped when nil
	Health    health.Probe
	Readiness health.Probe

	APIRoutes func(chi.Router)
	Fallback  http.Handler // NotFound and MethodNotAllowed, chi defaults when nil

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler // burst shield keyed by the resolved client IP

	ClientIPOpts httpmw.ClientIPOptions
	NetworkInfo  httpmw.NetworkInfo
	CORS         httpmw.CORSOptions
	MaxBodyBytes int64

	// ShutdownGrace bounds in-flight drain on stop
	ShutdownGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Port == 0 {
		o.Port = defaultPort
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultGrace
	}
	return o
}
