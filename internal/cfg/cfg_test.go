package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func parse(t *testing.T, args ...string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("faucet", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return fs, c
}

// valid is a config Validate accepts, mutated per case below
func valid(t *testing.T) App {
	t.Helper()
	_, c := parse(t, "-faucet-key=suiprivkey1example")
	if err := Validate(*c); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	return *c
}

func collect(msgs *[]string) func(string, ...any) {
	return func(format string, args ...any) {
		*msgs = append(*msgs, fmt.Sprintf(format, args...))
	}
}

func TestRegister_FaucetDefaults(t *testing.T) {
	fs, c := parse(t)

	want := map[string]string{
		"network":               "testnet",
		"ip-window":             "15m0s",
		"ip-max-requests":       "5",
		"wallet-window":         "24h0m0s",
		"wallet-max-requests":   "5",
		"min-amount":            "100000000",
		"max-amount":            "5000000000",
		"default-amount":        "1000000000",
		"low-balance-threshold": "5000000000",
		"recipient-ceiling":     "50000000000",
		"ledger-timeout":        "10s",
		"recheck-balance":       "false",
		"ratelimit-backend":     "memory",
		"ipv6-prefix":           "64",
		"cors-origin":           "http://localhost:3000",
	}
	for name, def := range want {
		f := fs.Lookup(name)
		if f == nil {
			t.Errorf("flag -%s not registered", name)
			continue
		}
		if f.DefValue != def {
			t.Errorf("-%s default = %q, want %q", name, f.DefValue, def)
		}
	}

	if c.IPWindow != 15*time.Minute || c.WalletMaxRequests != 5 || c.MaxAmount != 5_000_000_000 {
		t.Fatalf("defaults not bound to App: %+v", c)
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 || !c.LogJSON {
		t.Fatalf("server defaults: http=%d admin=%d json=%v", c.HTTPPort, c.AdminPort, c.LogJSON)
	}
}

func TestRegister_CLIBindsFields(t *testing.T) {
	_, c := parse(t,
		"-network=devnet",
		"-wallet-max-requests=2",
		"-wallet-window=1h",
		"-max-amount=9000000000",
		"-ratelimit-backend=redis",
		"-redis-addr=redis:6379",
		"-auto-refill",
		"-admin-token=ops",
	)
	if c.Network != "devnet" || c.WalletMaxRequests != 2 || c.WalletWindow != time.Hour {
		t.Fatalf("ledger/limits not bound: %+v", c)
	}
	if c.MaxAmount != 9_000_000_000 || c.RateLimitBackend != "redis" || c.RedisAddr != "redis:6379" {
		t.Fatalf("amount/backend not bound: %+v", c)
	}
	if !c.AutoRefill || c.AdminToken != "ops" {
		t.Fatalf("refill/admin not bound: %+v", c)
	}
}

func TestFillFromEnv_Precedence(t *testing.T) {
	t.Setenv("FAUCETTEST_WALLET_MAX_REQUESTS", "3")
	t.Setenv("FAUCETTEST_IP_WINDOW", "5m")
	t.Setenv("FAUCETTEST_HTTP_PORT", "7777")
	t.Setenv("FAUCETTEST_GAS_BUDGET", "lots")

	fs, c := parse(t, "-http-port=9090")
	var msgs []string
	FillFromEnv(fs, "FAUCETTEST_", collect(&msgs))

	if c.WalletMaxRequests != 3 || c.IPWindow != 5*time.Minute {
		t.Fatalf("env not applied: wallet=%d ip-window=%s", c.WalletMaxRequests, c.IPWindow)
	}
	if c.HTTPPort != 9090 {
		t.Fatalf("HTTPPort = %d, cli must beat env", c.HTTPPort)
	}
	if c.GasBudget != 10_000_000 {
		t.Fatalf("GasBudget = %d, invalid env must keep the default", c.GasBudget)
	}

	joined := strings.Join(msgs, "\n")
	if len(msgs) != 2 || !strings.Contains(joined, "overrides env FAUCETTEST_HTTP_PORT") ||
		!strings.Contains(joined, "ignoring invalid env FAUCETTEST_GAS_BUDGET") {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestFillFromEnv_RedactsSecrets(t *testing.T) {
	t.Setenv("FAUCETTEST_ADMIN_TOKEN", "env-secret")
	t.Setenv("FAUCETTEST_REDIS_DB", "not-a-db")

	fs, c := parse(t, "-admin-token=cli-secret", "-redis-password=hunter2")
	t.Setenv("FAUCETTEST_REDIS_PASSWORD", "also-secret")

	var msgs []string
	FillFromEnv(fs, "FAUCETTEST_", collect(&msgs))

	if c.AdminToken != "cli-secret" {
		t.Fatalf("AdminToken = %q", c.AdminToken)
	}
	joined := strings.Join(msgs, "\n")
	for _, secret := range []string{"cli-secret", "env-secret", "hunter2", "also-secret"} {
		if strings.Contains(joined, secret) {
			t.Fatalf("secret %q leaked: %s", secret, joined)
		}
	}
	if strings.Count(joined, "[redacted]") != 2 {
		t.Fatalf("want two redacted values: %s", joined)
	}
	if !strings.Contains(joined, `"not-a-db"`) {
		t.Fatalf("non-secret value should be shown: %s", joined)
	}
}

func TestRedact(t *testing.T) {
	if got := redact("faucet-key", "suiprivkey1abc"); got != "[redacted]" {
		t.Fatalf("faucet-key = %q", got)
	}
	if got := redact("faucet-key", ""); got != "" {
		t.Fatalf("empty secret = %q", got)
	}
	if got := redact("network", "testnet"); got != "testnet" {
		t.Fatalf("network = %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"port range", func(c *App) { c.HTTPPort = 0 }, "invalid HTTP_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"log level", func(c *App) { c.LogLevel = "loud" }, "invalid LOG_LEVEL"},
		{"trace sample", func(c *App) { c.TraceSample = 1.5 }, "invalid TRACE_SAMPLE"},
		{"pyroscope url", func(c *App) { c.EnablePyroscope, c.PyroServer, c.PyroTenantID = true, "pyro", "t" }, "PYRO_SERVER must be a URL"},
		{"pyroscope tenant", func(c *App) { c.EnablePyroscope, c.PyroServer = true, "https://pyro:4040" }, "PYRO_TENANT required"},
		{"otlp endpoint", func(c *App) { c.EnableTracing, c.OTLPEndpoint = true, "otel" }, "OTLP_ENDPOINT must be host:port"},
		{"error links", func(c *App) { c.MaxErrorLinks = 0 }, "MAX_ERROR_LINKS"},
		{"network", func(c *App) { c.Network = "betanet" }, "invalid NETWORK"},
		{"rpc url", func(c *App) { c.RPCURL = "fullnode:9000" }, "RPC_URL must be a URL"},
		{"no key", func(c *App) { c.FaucetKey = "" }, "(got 0)"},
		{"two keys", func(c *App) { c.FaucetKeySSMParam = "/faucet/key" }, "(got 2)"},
		{"gas budget", func(c *App) { c.GasBudget = 0 }, "GAS_BUDGET"},
		{"ledger timeout", func(c *App) { c.LedgerTimeout = 0 }, "LEDGER_TIMEOUT"},
		{"min over max", func(c *App) { c.MinAmount = c.MaxAmount + 1 }, "exceeds MAX_AMOUNT"},
		{"default outside range", func(c *App) { c.DefaultAmount = c.MaxAmount * 2 }, "DEFAULT_AMOUNT"},
		{"zero window", func(c *App) { c.WalletWindow = 0 }, "WALLET_WINDOW must be > 0"},
		{"zero wallet limit", func(c *App) { c.WalletMaxRequests = 0 }, "WALLET_MAX_REQUESTS must be >= 1"},
		{"redis without addr", func(c *App) { c.RateLimitBackend = "redis" }, "REDIS_ADDR required"},
		{"redis bad addr", func(c *App) { c.RateLimitBackend, c.RedisAddr = "redis", "redis" }, "REDIS_ADDR must be host:port"},
		{"unknown backend", func(c *App) { c.RateLimitBackend = "memcached" }, "invalid RATELIMIT_BACKEND"},
		{"shield", func(c *App) { c.ShieldBurst = 0 }, "SHIELD_BURST"},
		{"trusted hops", func(c *App) { c.TrustedHops = -1 }, "TRUSTED_HOPS"},
		{"ipv6 prefix", func(c *App) { c.IPv6Prefix = 129 }, "IPV6_PREFIX must be in 0..128"},
		{"monitor interval", func(c *App) { c.BalanceCheckInterval = 0 }, "BALANCE_CHECK_INTERVAL"},
		{"refill interval", func(c *App) { c.AutoRefill, c.RefillMinInterval = true, 0 }, "REFILL_MIN_INTERVAL"},
		{"cors path", func(c *App) { c.CORSOrigin = "https://wallet.example/app" }, "CORS_ORIGIN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid(t)
			tc.mutate(&c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	c := valid(t)
	c.HTTPPort = 0
	c.Network = "betanet"
	c.IPMaxRequests = 0

	err := Validate(c)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, sub := range []string{"HTTP_PORT", "NETWORK", "IP_MAX_REQUESTS"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error missing %s: %v", sub, err)
		}
	}
}

func TestValidate_AcceptsFullObservabilityStack(t *testing.T) {
	c := valid(t)
	c.EnablePyroscope, c.PyroServer, c.PyroTenantID = true, "https://pyro:4040", "faucet"
	c.EnableTracing, c.OTLPEndpoint, c.TraceSample = true, "otel:4317", 0.2
	c.RateLimitBackend, c.RedisAddr = "redis", "redis:6379"
	c.CORSOrigin = "*"
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "FAUCETTEST_NETWORK=devnet\nFAUCETTEST_HTTP_PORT=7070\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FAUCETTEST_HTTP_PORT", "6060")
	t.Cleanup(func() { os.Unsetenv("FAUCETTEST_NETWORK") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("FAUCETTEST_NETWORK"); got != "devnet" {
		t.Fatalf("NETWORK = %q", got)
	}
	if got := os.Getenv("FAUCETTEST_HTTP_PORT"); got != "6060" {
		t.Fatalf("HTTP_PORT = %q, the environment must win over the file", got)
	}

	for _, p := range []string{"", filepath.Join(t.TempDir(), "missing.env")} {
		if err := LoadDotEnv(p); err != nil {
			t.Fatalf("LoadDotEnv(%q) = %v", p, err)
		}
	}
}
