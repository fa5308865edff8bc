package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

// EnvPrefix is prepended to flag names when reading environment variables.
const EnvPrefix = "LMFAUCET_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	PyroAuthToken     string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// ledger
	Network                string
	RPCURL                 string
	FaucetURL              string
	FaucetKey              string
	FaucetKeySSMParam      string
	FaucetKeyKMSCiphertext string
	GasBudget              uint64
	LedgerTimeout          time.Duration

	// disbursement, amounts in MIST
	DefaultAmount       uint64
	MinAmount           uint64
	MaxAmount           uint64
	LowBalanceThreshold uint64
	RecipientCeiling    uint64
	RecheckBalance      bool

	// admission control
	IPWindow          time.Duration
	IPMaxRequests     int
	WalletWindow      time.Duration
	WalletMaxRequests int
	RateLimitBackend  string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string
	ShieldRate        float64
	ShieldBurst       int
	TrustedHops       int
	IPv6Prefix        int

	// balance monitor and refill
	BalanceCheckInterval time.Duration
	AutoRefill           bool
	RefillMinInterval    time.Duration

	// http surface
	AdminToken string
	CORSOrigin string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.PyroAuthToken, "pyro-auth-token", "", "auth token for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.Network, "network", "testnet", "sui network: mainnet|testnet|devnet|localnet")
	fs.StringVar(&c.RPCURL, "rpc-url", "", "fullnode JSON-RPC url (default: public fullnode for -network)")
	fs.StringVar(&c.FaucetURL, "faucet-url", "", "upstream faucet url used for refills (default: public faucet for -network)")
	fs.StringVar(&c.FaucetKey, "faucet-key", "", "faucet private key (suiprivkey1..., base64 or 0x hex seed)")
	fs.StringVar(&c.FaucetKeySSMParam, "faucet-key-ssm-param", "", "ssm SecureString parameter holding the faucet private key")
	fs.StringVar(&c.FaucetKeyKMSCiphertext, "faucet-key-kms-ciphertext", "", "base64 KMS ciphertext that decrypts to the faucet private key")
	fs.Uint64Var(&c.GasBudget, "gas-budget", 10_000_000, "gas budget per payout in MIST")
	fs.DurationVar(&c.LedgerTimeout, "ledger-timeout", 10*time.Second, "timeout for each ledger call")

	fs.Uint64Var(&c.DefaultAmount, "default-amount", 1_000_000_000, "payout when the request has no amount, in MIST")
	fs.Uint64Var(&c.MinAmount, "min-amount", 100_000_000, "smallest requestable amount in MIST")
	fs.Uint64Var(&c.MaxAmount, "max-amount", 5_000_000_000, "largest requestable amount in MIST")
	fs.Uint64Var(&c.LowBalanceThreshold, "low-balance-threshold", 5_000_000_000, "faucet balance below which it is reported low, in MIST")
	fs.Uint64Var(&c.RecipientCeiling, "recipient-ceiling", 50_000_000_000, "recipients holding more than this are refused, in MIST")
	fs.BoolVar(&c.RecheckBalance, "recheck-balance", false, "re-read the faucet balance immediately before submitting a transfer")

	fs.DurationVar(&c.IPWindow, "ip-window", 15*time.Minute, "per-IP fixed window length")
	fs.IntVar(&c.IPMaxRequests, "ip-max-requests", 5, "requests per IP per window")
	fs.DurationVar(&c.WalletWindow, "wallet-window", 24*time.Hour, "per-wallet fixed window length")
	fs.IntVar(&c.WalletMaxRequests, "wallet-max-requests", 5, "requests per wallet address per window")
	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", "memory", "rate limit window store: memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for -ratelimit-backend=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "faucet:rl:", "redis key prefix for rate limit windows")
	fs.Float64Var(&c.ShieldRate, "shield-rate", 10, "per-IP burst shield refill rate in requests per second")
	fs.IntVar(&c.ShieldBurst, "shield-burst", 30, "per-IP burst shield bucket size")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server (X-Forwarded-For)")
	fs.IntVar(&c.IPv6Prefix, "ipv6-prefix", 64, "IPv6 clients share one ip quota per prefix of this length (0 or 128 = per address)")

	fs.DurationVar(&c.BalanceCheckInterval, "balance-check-interval", 5*time.Minute, "how often the balance monitor reads the faucet balance")
	fs.BoolVar(&c.AutoRefill, "auto-refill", false, "request a top-up from the upstream faucet when the balance is low")
	fs.DurationVar(&c.RefillMinInterval, "refill-min-interval", time.Hour, "minimum time between automatic refills")

	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token required by operator endpoints on the admin port (empty disables them)")
	fs.StringVar(&c.CORSOrigin, "cors-origin", "http://localhost:3000", "allowed browser origin for the faucet API (empty disables CORS)")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, redact(f.Name, f.Value.String()), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, redact(f.Name, envVal), err)
			}
		}
	})
}

// redact hides secret flag values in log output.
func redact(name, val string) string {
	switch name {
	case "faucet-key", "redis-password", "admin-token", "faucet-key-kms-ciphertext":
		if val == "" {
			return ""
		}
		return "[redacted]"
	}
	return val
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Ledger
	if _, ok := ledger.ParseNetwork(c.Network); !ok {
		errs = append(errs, fmt.Errorf("invalid NETWORK %q (must be mainnet|testnet|devnet|localnet)", c.Network))
	}
	for name, raw := range map[string]string{"RPC_URL": c.RPCURL, "FAUCET_URL": c.FaucetURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be a URL (got %q)", name, raw))
		}
	}
	keySources := 0
	for _, s := range []string{c.FaucetKey, c.FaucetKeySSMParam, c.FaucetKeyKMSCiphertext} {
		if s != "" {
			keySources++
		}
	}
	if keySources != 1 {
		errs = append(errs, fmt.Errorf("exactly one of FAUCET_KEY, FAUCET_KEY_SSM_PARAM, FAUCET_KEY_KMS_CIPHERTEXT is required (got %d)", keySources))
	}
	if c.GasBudget == 0 {
		errs = append(errs, fmt.Errorf("GAS_BUDGET must be > 0"))
	}
	if c.LedgerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEOUT must be > 0 (got %s)", c.LedgerTimeout))
	}

	// Amounts
	if c.MinAmount == 0 {
		errs = append(errs, fmt.Errorf("MIN_AMOUNT must be > 0"))
	}
	if c.MinAmount > c.MaxAmount {
		errs = append(errs, fmt.Errorf("MIN_AMOUNT %d exceeds MAX_AMOUNT %d", c.MinAmount, c.MaxAmount))
	}
	if c.DefaultAmount < c.MinAmount || c.DefaultAmount > c.MaxAmount {
		errs = append(errs, fmt.Errorf("DEFAULT_AMOUNT %d must be within MIN_AMOUNT..MAX_AMOUNT", c.DefaultAmount))
	}

	// Rate limits
	if c.IPWindow <= 0 || c.WalletWindow <= 0 {
		errs = append(errs, fmt.Errorf("IP_WINDOW and WALLET_WINDOW must be > 0"))
	}
	if c.IPMaxRequests < 1 || c.WalletMaxRequests < 1 {
		errs = append(errs, fmt.Errorf("IP_MAX_REQUESTS and WALLET_MAX_REQUESTS must be >= 1"))
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when RATELIMIT_BACKEND=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BACKEND %q (must be memory|redis)", c.RateLimitBackend))
	}
	if c.ShieldRate <= 0 || c.ShieldBurst < 1 {
		errs = append(errs, fmt.Errorf("SHIELD_RATE must be > 0 and SHIELD_BURST >= 1"))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.IPv6Prefix < 0 || c.IPv6Prefix > 128 {
		errs = append(errs, fmt.Errorf("IPV6_PREFIX must be in 0..128 (got %d)", c.IPv6Prefix))
	}

	// Monitor
	if c.BalanceCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("BALANCE_CHECK_INTERVAL must be > 0"))
	}
	if c.AutoRefill && c.RefillMinInterval <= 0 {
		errs = append(errs, fmt.Errorf("REFILL_MIN_INTERVAL must be > 0 when AUTO_REFILL=true"))
	}

	// CORS origin must be a bare origin
	if c.CORSOrigin != "" && c.CORSOrigin != "*" {
		if u, err := url.Parse(c.CORSOrigin); err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			errs = append(errs, fmt.Errorf("CORS_ORIGIN must be scheme://host[:port] (got %q)", c.CORSOrigin))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
