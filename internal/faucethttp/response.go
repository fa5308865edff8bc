package faucethttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/faucet"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/log"
)

// Response is the envelope every faucet endpoint returns.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Error codes outside the disbursement reasons.
const (
	errInvalidRequest   = "invalid_request"
	errInvalidDigest    = "invalid_transaction_hash"
	errNotFound         = "not_found"
	errUnauthorized     = "unauthorized"
	errRefillFailed     = "refill_failed"
	errMethodNotAllowed = "method_not_allowed"
	errRouteNotFound    = "route_not_found"
	messageUnavailable  = "The faucet is temporarily unavailable. Please try again later."
)

// statusFor maps a disbursement reason to an HTTP status. An already-funded recipient
// counts as a limit.
func statusFor(r faucet.Reason) int {
	switch r {
	case faucet.ReasonRateLimitedByIP, faucet.ReasonRateLimitedByWallet, faucet.ReasonRecipientAlreadyFunded:
		return http.StatusTooManyRequests
	case faucet.ReasonInsufficientFaucetBalance:
		return http.StatusServiceUnavailable
	case faucet.ReasonInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// messageFor is the caller-facing text for a reason. Ledger-side reasons share one
// generic retryable message so no ledger detail leaks out.
func messageFor(r faucet.Reason, cfg faucet.Config) string {
	switch r {
	case faucet.ReasonMalformedAddress:
		return "Invalid Sui address format. Expected 0x followed by 64 hex characters."
	case faucet.ReasonRecipientRejected:
		return "This address cannot receive faucet funds."
	case faucet.ReasonAmountOutOfRange:
		return fmt.Sprintf("Amount must be between %s and %s SUI.", formatSUI(cfg.MinAmount), formatSUI(cfg.MaxAmount))
	case faucet.ReasonRecipientAlreadyFunded:
		return fmt.Sprintf("Recipient already holds more than %s SUI.", formatSUI(cfg.RecipientCeiling))
	case faucet.ReasonRateLimitedByIP:
		return "Too many requests from this IP. Please try again later."
	case faucet.ReasonInsufficientFaucetBalance, faucet.ReasonTransferExecutionFailed, faucet.ReasonLedgerUnavailable:
		return messageUnavailable
	default:
		return "Internal server error."
	}
}

func formatSUI(mist uint64) string {
	return strconv.FormatFloat(ledger.ToSUI(mist), 'f', -1, 64)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	api.writeJSON(ctx, w, status, Response{Message: message, Error: code})
}
