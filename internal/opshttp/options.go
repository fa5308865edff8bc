package opshttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/health"
)

const defaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	OnPanic      func()

	// AdminRoutes mounts operator endpoints such as refill and rate limit status.
	// They sit behind the same non-public peer check as everything else here.
	AdminRoutes func(chi.Router)
}
