package wallet

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxFractionDigits is the supported currency precision (cents).
const maxFractionDigits = 2

// Wallet holds a single non-negative balance keyed by a unique id.
type Wallet struct {
	ID      uuid.UUID       `json:"wallet_id"`
	Balance decimal.Decimal `json:"balance"`
}

// OperationKind identifies the direction of a balance mutation.
type OperationKind string

const (
	KindCredit OperationKind = "credit"
	KindDebit  OperationKind = "debit"
)

// Operation is an ephemeral instruction to mutate one wallet's balance.
// It has no persistent identity; once applied it is gone.
type Operation struct {
	WalletID uuid.UUID
	Kind     OperationKind
	Amount   decimal.Decimal
}

// Validate checks the operation before any storage is touched.
// The amount must be strictly positive and carry at most two fractional
// digits. Violations are caller errors, reported as ErrInvalidOperation.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindCredit, KindDebit:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, string(op.Kind))
	}

	if op.WalletID == uuid.Nil {
		return fmt.Errorf("%w: wallet id is required", ErrInvalidOperation)
	}

	if op.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOperation, op.Amount)
	}

	if op.Amount.Exponent() < -maxFractionDigits {
		return fmt.Errorf("%w: amount %s exceeds %d fractional digits", ErrInvalidOperation, op.Amount, maxFractionDigits)
	}

	return nil
}
