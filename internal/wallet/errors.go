package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Failure taxonomy for the ledger engine. Every Apply outcome maps to
// exactly one of these; the transport layer translates them to statuses
// without the engine ever knowing about HTTP.
var (
	// ErrInvalidOperation marks malformed input caught before storage is
	// touched: non-positive amounts, unsupported precision, missing ids.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrWalletNotFound means the referenced wallet does not exist.
	// Apply never creates a wallet as a side effect.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists rejects provisioning a wallet id that already has a
	// row. Only Create returns it; Apply never touches provisioning.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrStoreUnavailable means the store could not complete the unit of
	// work (timeout, connectivity, lock wait exceeded). The failed attempt
	// had no effect, so callers may retry the whole operation.
	ErrStoreUnavailable = errors.New("store unavailable")

	// errTxConflict marks a transient conflict (serialization failure,
	// deadlock, lock timeout) that the engine retries internally before
	// giving up with ErrStoreUnavailable.
	errTxConflict = errors.New("transaction conflict")
)

// InsufficientFundsError rejects a debit that exceeds the locked balance.
// It carries the balance observed under the lock for diagnostics.
type InsufficientFundsError struct {
	Balance decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s", e.Balance)
}
