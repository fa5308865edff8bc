package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// Start listens on opts.Port and serves the public faucet handler in the
// background. The returned stop drains in-flight requests and is safe to
// call more than once.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	opts = opts.withDefaults()
	srv := NewServer(addrFor(opts.Port), NewHandler(opts))
	return Serve(ctx, opts.Logger, "http", srv, opts.ShutdownGrace)
}

// Serve binds srv.Addr before returning so port conflicts surface to the
// caller, then serves until stop is called. name prefixes the log lines.
func Serve(ctx context.Context, L log.Logger, name string, srv *http.Server, grace time.Duration) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s listen on %s", name, srv.Addr)
	}

	go func() {
		L.Info(ctx, name+" server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, name+" server error")
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, name+" server shutting down")
			c, cancel := context.WithTimeout(sctx, grace)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
