package faucethttp

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/address"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

// RegisterAdminRoutes attaches the operator endpoints. They are only registered when an
// admin token is configured, and every request must present it as a bearer token.
func (api *API) RegisterAdminRoutes(r chi.Router) {
	if api.adminToken == "" {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(api.requireToken)
		r.Use(api.recoverJSON)
		if api.refiller != nil {
			r.Post("/api/faucet/refill", api.HandleRefill)
		}
		r.Get("/api/ratelimit", api.HandleRateLimitStatus)
	})
}

func (api *API) requireToken(next http.Handler) http.Handler {
	want := []byte(api.adminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="faucet-admin"`)
			api.writeError(r.Context(), w, http.StatusUnauthorized, errUnauthorized, "Missing or invalid admin token.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type RefillData struct {
	NewBalance    float64 `json:"newBalance"`
	BalanceStatus string  `json:"balanceStatus"`
}

// HandleRefill asks the upstream faucet for a top-up and reports the balance after it.
func (api *API) HandleRefill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	if !api.refiller.Refill(ctx) {
		api.writeError(ctx, w, http.StatusServiceUnavailable, errRefillFailed, "Failed to refill faucet. Please try again later.")
		return
	}
	snap, err := api.dispenser.Balance(ctx)
	if err != nil {
		L.Error(ctx, err, "balance read after refill failed")
		api.writeError(ctx, w, http.StatusServiceUnavailable, errRefillFailed, messageUnavailable)
		return
	}

	status := "sufficient"
	if snap.IsLow {
		status = "low"
	}
	L.Info(ctx, "faucet refilled by operator", "balance_mist", snap.Total, "balance_status", status)
	api.writeJSON(ctx, w, http.StatusOK, Response{
		Success: true,
		Message: "Faucet refilled successfully",
		Data: RefillData{
			NewBalance:    ledger.ToSUI(snap.Total),
			BalanceStatus: status,
		},
	})
}

type IPLimitData struct {
	WindowMs    int64 `json:"windowMs"`
	MaxRequests int   `json:"maxRequests"`
	ActiveCount int   `json:"activeCount"`
}

type WalletLimitData struct {
	WindowMs           int64 `json:"windowMs"`
	MaxRequests        int   `json:"maxRequests"`
	ActiveWalletsCount int   `json:"activeWalletsCount"`
}

type WalletUsageData struct {
	Address  string `json:"address"`
	Count    int    `json:"count"`
	ResetsIn int64  `json:"resetsIn"`
}

type RateLimitStatusData struct {
	IPRateLimit          IPLimitData       `json:"ipRateLimit"`
	WalletRateLimit      WalletLimitData   `json:"walletRateLimit"`
	ActiveWalletRequests []WalletUsageData `json:"activeWalletRequests"`
}

// HandleRateLimitStatus reports both gates with wallet addresses redacted.
func (api *API) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := api.limiter.Status(ctx)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "rate limiter status failed")
		api.writeError(ctx, w, http.StatusInternalServerError, "internal_error", "Internal server error.")
		return
	}

	wallets := make([]WalletUsageData, 0, len(st.ActiveWallets))
	for _, u := range st.ActiveWallets {
		wallets = append(wallets, WalletUsageData{
			Address:  address.Redact(u.Key),
			Count:    u.Count,
			ResetsIn: int64((u.ResetsIn + time.Second - 1) / time.Second),
		})
	}

	api.writeJSON(ctx, w, http.StatusOK, Response{
		Success: true,
		Message: "Rate limit status retrieved successfully",
		Data: RateLimitStatusData{
			IPRateLimit: IPLimitData{
				WindowMs:    st.IP.Window.Milliseconds(),
				MaxRequests: st.IP.MaxRequests,
				ActiveCount: st.IP.ActiveCount,
			},
			WalletRateLimit: WalletLimitData{
				WindowMs:           st.Wallet.Window.Milliseconds(),
				MaxRequests:        st.Wallet.MaxRequests,
				ActiveWalletsCount: st.Wallet.ActiveCount,
			},
			ActiveWalletRequests: wallets,
		},
	})
}
