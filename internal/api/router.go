package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/walletd/internal/wallet"
)

type Dependencies struct {
	Logger *slog.Logger

	Engine interface {
		Apply(ctx context.Context, op wallet.Operation) (decimal.Decimal, error)
		Balance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
		CreateWallet(ctx context.Context, id uuid.UUID, initial decimal.Decimal) (wallet.Wallet, error)
	}

	RateLimiter  *TokenBucket
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationID)
	r.Use(requestLogger(deps.Logger))
	r.Use(bodySizeLimit(deps.MaxBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(rateLimit(deps.RateLimiter))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/wallet", handleOperation(deps))
		r.Post("/wallets", handleCreateWallet(deps))
		r.Get("/wallets/{id}", handleGetWallet(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})

	return r
}
