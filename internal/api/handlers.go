package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/walletd/internal/wallet"
)

// Wire names for the operation kinds, kept distinct from the engine's own
// names on purpose: the engine never sees transport vocabulary.
const (
	opDeposit  = "DEPOSIT"
	opWithdraw = "WITHDRAW"
)

type operationRequest struct {
	WalletID      string          `json:"wallet_id"`
	OperationType string          `json:"operation_type"`
	Amount        decimal.Decimal `json:"amount"`
}

type createWalletRequest struct {
	WalletID string          `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
}

type walletResponse struct {
	CorrelationID string          `json:"correlation_id"`
	WalletID      string          `json:"wallet_id"`
	Balance       decimal.Decimal `json:"balance"`
}

func handleOperation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
			return
		}

		id, err := uuid.Parse(req.WalletID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_wallet_id", "wallet_id must be a UUID")
			return
		}

		var kind wallet.OperationKind
		switch req.OperationType {
		case opDeposit:
			kind = wallet.KindCredit
		case opWithdraw:
			kind = wallet.KindDebit
		default:
			writeError(w, r, http.StatusBadRequest, "invalid_operation", "operation_type must be DEPOSIT or WITHDRAW")
			return
		}

		balance, err := deps.Engine.Apply(r.Context(), wallet.Operation{
			WalletID: id,
			Kind:     kind,
			Amount:   req.Amount,
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, walletResponse{
			CorrelationID: correlationIDFromContext(r.Context()),
			WalletID:      id.String(),
			Balance:       balance,
		})
	}
}

func handleGetWallet(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_wallet_id", "wallet id must be a UUID")
			return
		}

		balance, err := deps.Engine.Balance(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, walletResponse{
			CorrelationID: correlationIDFromContext(r.Context()),
			WalletID:      id.String(),
			Balance:       balance,
		})
	}
}

func handleCreateWallet(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
			return
		}

		var id uuid.UUID
		if req.WalletID != "" {
			parsed, err := uuid.Parse(req.WalletID)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_wallet_id", "wallet_id must be a UUID")
				return
			}
			id = parsed
		}

		created, err := deps.Engine.CreateWallet(r.Context(), id, req.Balance)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, walletResponse{
			CorrelationID: correlationIDFromContext(r.Context()),
			WalletID:      created.ID.String(),
			Balance:       created.Balance,
		})
	}
}
