// Package faucethttp is the HTTP front of the faucet: it validates request shape, runs the
// IP and wallet gates, hands admitted requests to the dispenser and maps the outcome to a
// status code and JSON envelope.
package faucethttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/address"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/faucet"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// estimatedConfirmation is what callers are told to expect after a successful transfer.
const estimatedConfirmation = "5-10 seconds"

// Dispenser is the disbursement side of the faucet.
type Dispenser interface {
	Dispense(ctx context.Context, recipientRaw string, amountOverride *int64) faucet.Result
	Balance(ctx context.Context) (faucet.BalanceSnapshot, error)
	Health(ctx context.Context) faucet.Health
	Config() faucet.Config
	Address() string
}

// TransactionReader looks up past transactions.
type TransactionReader interface {
	Transaction(ctx context.Context, digest string) (ledger.TransactionDetails, error)
}

// Refiller requests a top-up from the upstream faucet.
type Refiller interface {
	Refill(ctx context.Context) bool
}

// Notifier is nudged when a request observes a low balance.
type Notifier interface {
	Notify()
}

type Options struct {
	Logger       log.Logger
	Dispenser    Dispenser
	Limiter      *ratelimit.Limiter
	Transactions TransactionReader
	Refiller     Refiller
	Monitor      Notifier
	Network      ledger.Network

	// AdminToken guards the operator routes. Empty leaves them unregistered.
	AdminToken string
}

// API implements the faucet endpoints.
type API struct {
	logger     log.Logger
	dispenser  Dispenser
	limiter    *ratelimit.Limiter
	txs        TransactionReader
	refiller   Refiller
	monitor    Notifier
	network    ledger.Network
	adminToken string
}

func NewAPI(opts Options) (*API, error) {
	if opts.Dispenser == nil {
		return nil, xerrors.New("faucet api requires a dispenser")
	}
	if opts.Limiter == nil {
		return nil, xerrors.New("faucet api requires a rate limiter")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &API{
		logger:     opts.Logger,
		dispenser:  opts.Dispenser,
		limiter:    opts.Limiter,
		txs:        opts.Transactions,
		refiller:   opts.Refiller,
		monitor:    opts.Monitor,
		network:    opts.Network,
		adminToken: opts.AdminToken,
	}, nil
}

// Network and FaucetAddress satisfy httpmw.NetworkInfo.
func (api *API) Network() string       { return string(api.network) }
func (api *API) FaucetAddress() string { return api.dispenser.Address() }

// RegisterRoutes attaches the public faucet endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/faucet", func(r chi.Router) {
		r.Use(api.recoverJSON)
		r.Post("/request", api.HandleRequest)
		r.Get("/status", api.HandleStatus)
		r.Get("/health", api.HandleHealth)
		if api.txs != nil {
			r.Get("/transaction/{digest}", api.HandleTransaction)
		}
	})
}

// Fallback serves JSON 404 and 405 responses for unmatched routes.
func (api *API) Fallback() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if routedForOtherMethod(r) {
			api.writeError(r.Context(), w, http.StatusMethodNotAllowed, errMethodNotAllowed, "Method not allowed.")
			return
		}
		api.writeError(r.Context(), w, http.StatusNotFound, errRouteNotFound, "Route not found.")
	})
}

var routeMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// routedForOtherMethod reports whether the path exists under a different method.
func routedForOtherMethod(r *http.Request) bool {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return false
	}
	for _, m := range routeMethods {
		if m != r.Method && rctx.Routes.Match(chi.NewRouteContext(), m, r.URL.Path) {
			return true
		}
	}
	return false
}

// recoverJSON turns panics inside faucet handlers into the internal_error envelope.
func (api *API) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			ctx := r.Context()
			log.FromContext(ctx).Error(ctx, xerrors.Newf("panic: %v", rec), "faucet handler panic recovered")
			api.writeError(ctx, w, http.StatusInternalServerError, string(faucet.ReasonInternalError), messageFor(faucet.ReasonInternalError, faucet.Config{}))
		}()
		next.ServeHTTP(w, r)
	})
}

// requestBody is the inbound disbursement request.
type requestBody struct {
	Address *string      `json:"address"`
	Amount  *json.Number `json:"amount"`
}

// RequestData is returned on a successful disbursement.
type RequestData struct {
	TransactionHash           string `json:"transactionHash"`
	RecipientAddress          string `json:"recipientAddress"`
	Amount                    uint64 `json:"amount"`
	EstimatedConfirmationTime string `json:"estimatedConfirmationTime"`
}

// HandleRequest runs shape validation, both gates and the dispenser.
func (api *API) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var body requestBody
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeError(ctx, w, http.StatusRequestEntityTooLarge, errInvalidRequest, "Request body too large.")
			return
		}
		api.writeError(ctx, w, http.StatusBadRequest, errInvalidRequest, "Request body must be a JSON object with an address field.")
		return
	}
	if body.Address == nil || strings.TrimSpace(*body.Address) == "" {
		api.writeError(ctx, w, http.StatusBadRequest, errInvalidRequest, "Address is required.")
		return
	}
	var amount *int64
	if body.Amount != nil {
		n, err := body.Amount.Int64()
		if err != nil {
			api.writeError(ctx, w, http.StatusBadRequest, errInvalidRequest, "Amount must be an integer number of MIST.")
			return
		}
		amount = &n
	}

	// The wallet gate is keyed by the canonical address, so malformed input is refused
	// here and never charges either gate.
	recipient, err := address.Normalize(*body.Address)
	if err != nil {
		api.writeReason(ctx, w, faucet.ReasonMalformedAddress, 0)
		return
	}

	ip := clientIP(r)
	verdict, err := api.limiter.Admit(ctx, ip, recipient)
	if err != nil {
		L.Error(ctx, err, "rate limiter failed")
		if verdict.DeniedBy == "" {
			api.writeReason(ctx, w, faucet.ReasonInternalError, 0)
			return
		}
	}
	if !verdict.Allowed {
		reason := faucet.ReasonRateLimitedByIP
		if verdict.DeniedBy == ratelimit.GateWallet {
			reason = faucet.ReasonRateLimitedByWallet
		}
		L.Info(ctx, "faucet request rate limited",
			"gate", string(verdict.DeniedBy),
			"recipient", address.Display(recipient),
			"retry_after_s", verdict.RetryAfterSeconds(),
		)
		api.writeReason(ctx, w, reason, verdict.RetryAfterSeconds())
		return
	}

	// An admitted transfer runs to completion even if the caller goes away; the
	// dispenser bounds each ledger call itself.
	res := api.dispenser.Dispense(context.WithoutCancel(ctx), recipient, amount)
	if !res.Succeeded {
		fields := []any{"reason", string(res.Reason), "recipient", address.Display(recipient)}
		if res.Reason.CallerFixable() {
			L.Info(ctx, "faucet request refused", fields...)
		} else {
			L.Error(ctx, res.Err, "faucet disbursement failed", fields...)
		}
		if res.Reason == faucet.ReasonInsufficientFaucetBalance {
			api.nudge()
		}
		api.writeReason(ctx, w, res.Reason, 0)
		return
	}

	L.Info(ctx, "faucet disbursement sent",
		"recipient", address.Display(res.Recipient),
		"amount_mist", res.Amount,
		"digest", res.TransferID,
		"gas_used", res.GasUsed,
	)
	api.writeJSON(ctx, w, http.StatusOK, Response{
		Success: true,
		Message: "Tokens sent successfully",
		Data: RequestData{
			TransactionHash:           res.TransferID,
			RecipientAddress:          res.Recipient,
			Amount:                    res.Amount,
			EstimatedConfirmationTime: estimatedConfirmation,
		},
	})
}

func (api *API) writeReason(ctx context.Context, w http.ResponseWriter, reason faucet.Reason, retryAfter int) {
	msg := messageFor(reason, api.dispenser.Config())
	if reason == faucet.ReasonRateLimitedByWallet {
		g := api.limiter.Wallet()
		msg = fmt.Sprintf("This wallet has reached the limit of %d requests per %s. Please try again later.",
			g.Limit(), humanWindow(g.Window()))
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	api.writeJSON(ctx, w, statusFor(reason), Response{
		Message:    msg,
		Error:      string(reason),
		RetryAfter: retryAfter,
	})
}

func (api *API) nudge() {
	if api.monitor != nil {
		api.monitor.Notify()
	}
}

// StatusData is the faucet's public status.
type StatusData struct {
	FaucetAddress    string        `json:"faucetAddress"`
	Network          string        `json:"network"`
	Balance          BalanceData   `json:"balance"`
	Health           HealthData    `json:"health"`
	MaxRequestAmount uint64        `json:"maxRequestAmount"`
	MinRequestAmount uint64        `json:"minRequestAmount"`
	DefaultAmount    uint64        `json:"defaultAmount"`
	RateLimit        RateLimitData `json:"rateLimit"`
	WalletRateLimit  RateLimitData `json:"walletRateLimit"`
}

type BalanceData struct {
	Total        uint64  `json:"total"`
	SUI          float64 `json:"sui"`
	IsLowBalance bool    `json:"isLowBalance"`
}

type HealthData struct {
	Status         faucet.HealthStatus `json:"status"`
	NetworkLatency int64               `json:"networkLatency"`
}

type RateLimitData struct {
	WindowMs    int64 `json:"windowMs"`
	MaxRequests int   `json:"maxRequests"`
}

// HandleStatus reports balance, ledger health and limits.
func (api *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := api.dispenser.Balance(ctx)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "faucet status balance read failed")
		api.writeError(ctx, w, http.StatusServiceUnavailable, string(faucet.ReasonLedgerUnavailable), messageUnavailable)
		return
	}
	if snap.IsLow {
		api.nudge()
	}
	h := api.dispenser.Health(ctx)
	cfg := api.dispenser.Config()
	ipGate, walletGate := api.limiter.IP(), api.limiter.Wallet()

	api.writeJSON(ctx, w, http.StatusOK, Response{
		Success: true,
		Message: "Faucet status retrieved successfully",
		Data: StatusData{
			FaucetAddress: api.dispenser.Address(),
			Network:       string(api.network),
			Balance: BalanceData{
				Total:        snap.Total,
				SUI:          ledger.ToSUI(snap.Total),
				IsLowBalance: snap.IsLow,
			},
			Health: HealthData{
				Status:         h.Status,
				NetworkLatency: h.Latency.Milliseconds(),
			},
			MaxRequestAmount: cfg.MaxAmount,
			MinRequestAmount: cfg.MinAmount,
			DefaultAmount:    cfg.DefaultAmount,
			RateLimit: RateLimitData{
				WindowMs:    ipGate.Window().Milliseconds(),
				MaxRequests: ipGate.Limit(),
			},
			WalletRateLimit: RateLimitData{
				WindowMs:    walletGate.Window().Milliseconds(),
				MaxRequests: walletGate.Limit(),
			},
		},
	})
}

type HealthResponseData struct {
	Status         faucet.HealthStatus `json:"status"`
	FaucetBalance  *uint64             `json:"faucetBalance,omitempty"`
	NetworkLatency int64               `json:"networkLatency"`
	Timestamp      time.Time           `json:"timestamp"`
}

// HandleHealth is 200 when the ledger answers and 503 otherwise.
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := api.dispenser.Health(ctx)

	status := http.StatusOK
	if h.Status != faucet.Healthy {
		status = http.StatusServiceUnavailable
	}
	api.writeJSON(ctx, w, status, Response{
		Success: h.Status == faucet.Healthy,
		Message: fmt.Sprintf("Faucet service is %s", h.Status),
		Data: HealthResponseData{
			Status:         h.Status,
			FaucetBalance:  h.FaucetBalance,
			NetworkLatency: h.Latency.Milliseconds(),
			Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
		},
	})
}

type TransactionData struct {
	TransactionHash string           `json:"transactionHash"`
	Status          ledger.Status    `json:"status"`
	GasUsed         uint64           `json:"gasUsed"`
	Timestamp       *time.Time       `json:"timestamp,omitempty"`
	Events          []map[string]any `json:"events"`
	ObjectChanges   []map[string]any `json:"objectChanges"`
}

// Digest length bounds accepted by HandleTransaction.
const (
	minDigestLen = 40
	maxDigestLen = 100
)

// HandleTransaction looks up a transaction by digest.
func (api *API) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	digest := chi.URLParam(r, "digest")
	if len(digest) < minDigestLen || len(digest) > maxDigestLen {
		api.writeError(ctx, w, http.StatusBadRequest, errInvalidDigest, "Invalid transaction hash format.")
		return
	}

	tctx, cancel := context.WithTimeout(ctx, api.dispenser.Config().LedgerTimeout)
	defer cancel()
	tx, err := api.txs.Transaction(tctx, digest)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			api.writeError(ctx, w, http.StatusNotFound, errNotFound, "Transaction not found.")
			return
		}
		log.FromContext(ctx).Error(ctx, err, "transaction lookup failed", "digest", digest)
		api.writeError(ctx, w, http.StatusServiceUnavailable, string(faucet.ReasonLedgerUnavailable), messageUnavailable)
		return
	}

	data := TransactionData{
		TransactionHash: digest,
		Status:          tx.Status,
		GasUsed:         tx.GasUsed,
		Events:          tx.Events,
		ObjectChanges:   tx.ObjectChanges,
	}
	if !tx.Timestamp.IsZero() {
		ts := tx.Timestamp.UTC()
		data.Timestamp = &ts
	}
	api.writeJSON(ctx, w, http.StatusOK, Response{
		Success: true,
		Message: "Transaction details retrieved successfully",
		Data:    data,
	})
}

// clientIP prefers the address resolved by httpmw.ClientIP and falls back to the peer.
func clientIP(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// humanWindow renders 24h as "24 hours" and 15m as "15 minutes".
func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
