package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OperationCommitted is emitted after a balance mutation commits. It is a
// downstream notification, not part of the mutation protocol: a publish
// failure never rolls back the committed balance.
type OperationCommitted struct {
	WalletID   string          `json:"wallet_id"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers committed-operation events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev OperationCommitted) error
}
