package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the durable keyed storage the engine runs against. Provisioning
// (Create) and plain reads (Get) sit outside the mutation protocol; every
// balance mutation goes through a Tx obtained from Begin.
type Store interface {
	// Get returns the wallet without taking any lock. A concurrent Apply
	// may commit between two Gets; that is acceptable for inquiries.
	Get(ctx context.Context, id uuid.UUID) (Wallet, error)

	// Create inserts a new wallet row. Wallets are provisioned out of band;
	// the engine itself never creates one.
	Create(ctx context.Context, w Wallet) (Wallet, error)

	// Begin opens a unit of work scoped to a single Apply call.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one all-or-nothing unit of work. GetForUpdate takes an exclusive
// per-wallet lock held until Commit or Rollback; no other Tx may read or
// write that wallet's balance in between. Locks on different wallets never
// contend.
type Tx interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (Wallet, error)
	SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
