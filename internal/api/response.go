package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/walletd/internal/wallet"
)

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	Balance       string `json:"balance,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := correlationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(correlationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorResponse{
		Error:         code,
		Message:       message,
		CorrelationID: correlationIDFromContext(r.Context()),
	})
}

// writeFailure maps the engine's failure taxonomy to transport statuses.
// This is the only place that knows both sides of that mapping.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *wallet.InsufficientFundsError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{
			Error:         "insufficient_funds",
			Message:       insufficient.Error(),
			Balance:       insufficient.Balance.String(),
			CorrelationID: correlationIDFromContext(r.Context()),
		})
	case errors.Is(err, wallet.ErrWalletNotFound):
		writeError(w, r, http.StatusNotFound, "wallet_not_found", err.Error())
	case errors.Is(err, wallet.ErrWalletExists):
		writeError(w, r, http.StatusConflict, "wallet_exists", err.Error())
	case errors.Is(err, wallet.ErrInvalidOperation):
		writeError(w, r, http.StatusBadRequest, "invalid_operation", err.Error())
	case errors.Is(err, wallet.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "the operation had no effect, retry later")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}
