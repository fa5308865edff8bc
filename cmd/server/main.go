package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/address"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/faucet"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/faucethttp"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/health"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/keysource"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/sui"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-faucet/internal/version"
)

// readinessCacheTTL caps fullnode probes from /readyz polling
const readinessCacheTTL = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading LMFAUCET_ variables")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// .env never overrides variables already present in the environment
	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "env file error:", err)
		os.Exit(1)
	}

	// Fill in config from environment variables with prefix LMFAUCET_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	network, _ := ledger.ParseNetwork(conf.Network)

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.Dirty(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"network", string(network),
		"rpc_url", conf.RPCURL,
		"default_amount_mist", conf.DefaultAmount,
		"min_amount_mist", conf.MinAmount,
		"max_amount_mist", conf.MaxAmount,
		"ip_limit", fmt.Sprintf("%d/%s", conf.IPMaxRequests, conf.IPWindow),
		"wallet_limit", fmt.Sprintf("%d/%s", conf.WalletMaxRequests, conf.WalletWindow),
		"ratelimit_backend", conf.RateLimitBackend,
		"auto_refill", conf.AutoRefill,
		"admin_routes", conf.AdminToken != "",
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		AuthToken:     conf.PyroAuthToken,
		TenantID:      conf.PyroTenantID,
		Component:     "server",
		Version:       vi.Version,
		Commit:        vi.Commit,
		BuildID:       vi.BuildId,
		Network:       string(network),
		Tags:          map[string]string{"app": v.AppName, "source": "go-agent"},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
		stopProf = func() {}
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Network:   conf.Network,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// resolve the faucet key from exactly one source (inline, SSM SecureString or KMS ciphertext)
	keyResolver, err := keysource.New(ctx, keysource.Options{
		Inline:        conf.FaucetKey,
		SSMParam:      conf.FaucetKeySSMParam,
		KMSCiphertext: conf.FaucetKeyKMSCiphertext,
	})
	if err != nil {
		L.Error(ctx, err, "failed to configure faucet key source")
		os.Exit(1)
	}
	rawKey, keySrc, err := keyResolver.Resolve(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to resolve faucet key", "source", string(keySrc))
		os.Exit(1)
	}
	signer, err := sui.ParseKeypair(rawKey)
	if err != nil {
		L.Error(ctx, err, "failed to parse faucet key", "source", string(keySrc))
		os.Exit(1)
	}

	suiClient, err := sui.New(sui.Options{
		Network:   network,
		RPCURL:    conf.RPCURL,
		FaucetURL: conf.FaucetURL,
		Signer:    signer,
		GasBudget: conf.GasBudget,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create sui client")
		os.Exit(1)
	}
	L = L.With("faucet_address", address.Display(suiClient.Address()), "network", string(network))
	ctx = log.WithContext(ctx, L)
	L.Info(ctx, "faucet key loaded", "source", string(keySrc), "address", suiClient.Address())

	dispenser, err := faucet.NewDispenser(faucet.DispenserOptions{
		Logger:  L.With("component", "dispenser"),
		Ledger:  suiClient,
		Metrics: m,
		Config: faucet.Config{
			DefaultAmount:       conf.DefaultAmount,
			MinAmount:           conf.MinAmount,
			MaxAmount:           conf.MaxAmount,
			LowBalanceThreshold: conf.LowBalanceThreshold,
			RecipientCeiling:    conf.RecipientCeiling,
			LedgerTimeout:       conf.LedgerTimeout,
			RecheckBalance:      conf.RecheckBalance,
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to create dispenser")
		os.Exit(1)
	}

	refiller := faucet.NewRefiller(faucet.RefillerOptions{
		Logger:  L.With("component", "refill"),
		Ledger:  suiClient,
		Network: network,
		Metrics: m,
		Timeout: conf.LedgerTimeout,
	})

	// startup balance check, a failure here is logged and not fatal so a flaky
	// fullnode does not keep the faucet from coming up
	if snap, err := dispenser.Balance(ctx); err != nil {
		L.Error(ctx, err, "initial faucet balance read failed")
	} else {
		L.Info(ctx, "faucet balance", "balance_mist", snap.Total, "balance_sui", ledger.ToSUI(snap.Total))
		if snap.IsLow {
			L.Warn(ctx, "faucet balance is low",
				"balance_mist", snap.Total,
				"threshold_mist", conf.LowBalanceThreshold,
			)
		}
	}

	monitor := faucet.NewMonitor(&faucet.MonitorOptions{
		Logger:            L.With("component", "monitor"),
		Balance:           dispenser,
		Refiller:          refiller,
		Metrics:           m,
		Interval:          conf.BalanceCheckInterval,
		AutoRefill:        conf.AutoRefill,
		RefillMinInterval: conf.RefillMinInterval,
	})
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			L.Error(ctx, err, "balance monitor exited")
		}
	}()

	// window stores for the ip and wallet gates
	ipStore, walletStore, closeStores, err := newStores(ctx, conf, m, L)
	if err != nil {
		L.Error(ctx, err, "failed to create rate limit stores", "backend", conf.RateLimitBackend)
		os.Exit(1)
	}
	defer closeStores()

	limiter := ratelimit.NewLimiter(
		ratelimit.NewGate(string(ratelimit.GateIP), ipStore, conf.IPMaxRequests, conf.IPWindow),
		ratelimit.NewGate(string(ratelimit.GateWallet), walletStore, conf.WalletMaxRequests, conf.WalletWindow),
		// increment prometheus counter on each gate denial
		ratelimit.WithOnGateDenied(func(kind ratelimit.GateKind) {
			m.IncRateLimitDenied(string(kind))
		}),
	)

	// per-IP token bucket in front of every route, independent of the fixed windows
	shield := ratelimit.NewShield(ctx,
		ratelimit.WithRate(conf.ShieldRate, conf.ShieldBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied("shield")
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "burst shield triggered", "ip", ip)
		}),
		ratelimit.WithOnVisitorCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "burst shield capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	api, err := faucethttp.NewAPI(faucethttp.Options{
		Logger:       L,
		Dispenser:    dispenser,
		Limiter:      limiter,
		Transactions: suiClient,
		Refiller:     refiller,
		Monitor:      monitor,
		Network:      network,
		AdminToken:   conf.AdminToken,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create faucet api")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// ready while not draining and the fullnode answers, fullnode result cached briefly
	readiness := health.All(
		gate.Probe(),
		health.Cached(health.Timeout(health.CheckFunc(suiClient.Probe), conf.LedgerTimeout), readinessCacheTTL),
	)

	// start public faucet http server
	faucetHTTPStop, err := httpserver.Start(
		ctx,
		httpserver.Options{
			Port:         conf.HTTPPort,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			APIRoutes:    api.RegisterRoutes,
			Fallback:     api.Fallback(),
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  shield.Middleware,
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops, IPv6Prefix: conf.IPv6Prefix},
			Logger:       L,
			NetworkInfo:  api,
			CORS: httpmw.CORSOptions{
				Origin:  conf.CORSOrigin,
				Methods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				Headers: []string{"Content-Type"},
				Expose:  []string{"Retry-After", "X-Request-Id"},
			},
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start faucet http listener")
		os.Exit(1)
	}
	defer func() { _ = faucetHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and the operator routes
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		AdminRoutes:  func(r chi.Router) { api.RegisterAdminRoutes(r) },
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// in-flight disbursements run on a detached context, give them and the load balancer time to drain
	L.Info(context.Background(), "sleeping 30s for in-flight transfers and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := faucetHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "faucet http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// newStores builds the window stores for both gates. The memory backend gives each gate
// its own store; redis shares one client with per-gate key prefixes.
func newStores(ctx context.Context, conf cfg.App, m *metrics.ServerMetrics, L log.Logger) (ip, wallet ratelimit.Store, closeFn func(), err error) {
	if conf.RateLimitBackend != "redis" {
		onCapacity := func(gate string) func() {
			return func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit store full, rejecting new keys until windows expire", "gate", gate)
			}
		}
		ip = ratelimit.NewMemoryStore(ratelimit.WithOnCapacity(onCapacity("ip")))
		wallet = ratelimit.NewMemoryStore(ratelimit.WithOnCapacity(onCapacity("wallet")))
		return ip, wallet, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, xerrors.Wrapf(err, "ping redis at %s", conf.RedisAddr)
	}
	L.Info(ctx, "using redis rate limit store", "redis_addr", conf.RedisAddr, "prefix", conf.RedisPrefix)

	closeFn = func() {
		if err := client.Close(); err != nil {
			L.Warn(context.Background(), "redis close failed", "error", err)
		}
	}
	return ratelimit.NewRedisStore(client, conf.RedisPrefix+"ip:"),
		ratelimit.NewRedisStore(client, conf.RedisPrefix+"wallet:"),
		closeFn, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify failed: dial failed")
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return xerrors.Wrap(err, "systemd notify failed: write failed")
	}
	if err := conn.Close(); err != nil {
		return xerrors.Wrap(err, "systemd notify failed: close failed")
	}
	return nil
}
