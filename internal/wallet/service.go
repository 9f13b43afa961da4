package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/walletd/internal/events"
)

const (
	// applyTimeout bounds one unit of work, lock wait included. No Apply
	// call may block forever; past this the attempt surfaces as
	// ErrStoreUnavailable with nothing committed.
	applyTimeout = 5 * time.Second

	// maxApplyRetries bounds internal retries on transient conflicts
	// (serialization failures, deadlocks) before giving up.
	maxApplyRetries = 3
)

// Service is the ledger engine. It is stateless between calls; all balance
// state lives in the Store, and mutual exclusion is delegated to the
// store's per-wallet lock.
type Service struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService builds an engine over the given store. publisher and logger
// may be nil; the engine then skips eventing and publish-failure logging.
func NewService(store Store, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Apply runs one operation against one wallet and returns the committed
// balance. The read-validate-write cycle happens under an exclusive
// per-wallet lock inside a single unit of work, so concurrent calls on the
// same wallet serialize and calls on different wallets proceed
// independently. On any failure the stored balance is untouched.
func (s *Service) Apply(ctx context.Context, op Operation) (decimal.Decimal, error) {
	if err := op.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	// The unit of work must run to completion even when the caller
	// abandons the request; only the engine's own deadline bounds it.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()

	var balance decimal.Decimal
	var err error
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		balance, err = s.applyOnce(opCtx, op)
		if !errors.Is(err, errTxConflict) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		if errors.Is(err, errTxConflict) {
			return decimal.Decimal{}, fmt.Errorf("%w: retries exhausted: %v", ErrStoreUnavailable, err)
		}
		return decimal.Decimal{}, err
	}

	s.publish(opCtx, op, balance)
	return balance, nil
}

func (s *Service) applyOnce(ctx context.Context, op Operation) (decimal.Decimal, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer tx.Rollback(ctx)

	w, err := tx.GetForUpdate(ctx, op.WalletID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var balance decimal.Decimal
	switch op.Kind {
	case KindCredit:
		balance = w.Balance.Add(op.Amount)
	case KindDebit:
		if w.Balance.LessThan(op.Amount) {
			return decimal.Decimal{}, &InsufficientFundsError{Balance: w.Balance}
		}
		balance = w.Balance.Sub(op.Amount)
	}

	if err := tx.SetBalance(ctx, op.WalletID, balance); err != nil {
		return decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	return balance, nil
}

func (s *Service) publish(ctx context.Context, op Operation, balance decimal.Decimal) {
	if s.publisher == nil {
		return
	}

	ev := events.OperationCommitted{
		WalletID:   op.WalletID.String(),
		Kind:       string(op.Kind),
		Amount:     op.Amount,
		Balance:    balance,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil && s.logger != nil {
		s.logger.Warn("operation event publish failed",
			"wallet_id", ev.WalletID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}

// Balance is a plain inquiry. It takes no lock; a concurrent Apply may
// commit between two reads, which is acceptable for an inquiry.
func (s *Service) Balance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	if id == uuid.Nil {
		return decimal.Decimal{}, fmt.Errorf("%w: wallet id is required", ErrInvalidOperation)
	}

	w, err := s.store.Get(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return w.Balance, nil
}

// CreateWallet provisions a wallet with an initial balance. A zero id gets
// a fresh one. Provisioning sits outside the mutation protocol; existing
// wallets are only ever changed through Apply.
func (s *Service) CreateWallet(ctx context.Context, id uuid.UUID, initial decimal.Decimal) (Wallet, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	if initial.Sign() < 0 {
		return Wallet{}, fmt.Errorf("%w: initial balance must not be negative", ErrInvalidOperation)
	}
	if initial.Exponent() < -maxFractionDigits {
		return Wallet{}, fmt.Errorf("%w: initial balance %s exceeds %d fractional digits", ErrInvalidOperation, initial, maxFractionDigits)
	}

	return s.store.Create(ctx, Wallet{ID: id, Balance: initial})
}
