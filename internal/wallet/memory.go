package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store used by tests and the memory driver.
// Each wallet has its own lock in a lock table, so units of work on
// different wallets never contend. Writes are staged in the Tx and only
// become visible on Commit.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]decimal.Decimal
	locks   map[uuid.UUID]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[uuid.UUID]decimal.Decimal),
		locks:   make(map[uuid.UUID]chan struct{}),
	}
}

// lock returns the wallet's lock channel, creating it on first use.
// A channel with capacity one doubles as a mutex that can give up waiting
// when the caller's context expires.
func (m *MemoryStore) lock(id uuid.UUID) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk, ok := m.locks[id]
	if !ok {
		lk = make(chan struct{}, 1)
		m.locks[id] = lk
	}
	return lk
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return Wallet{ID: id, Balance: balance}, nil
}

func (m *MemoryStore) Create(ctx context.Context, w Wallet) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.ID]; ok {
		return Wallet{}, ErrWalletExists
	}
	m.wallets[w.ID] = w.Balance
	return w, nil
}

func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{store: m, staged: make(map[uuid.UUID]decimal.Decimal)}, nil
}

// memoryTx holds at most the locks it acquired through GetForUpdate and a
// set of staged balances. Commit publishes the staged balances in one step
// under the store mutex, so no reader ever observes a partial write.
type memoryTx struct {
	store  *MemoryStore
	held   []chan struct{}
	staged map[uuid.UUID]decimal.Decimal
	done   bool
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Wallet, error) {
	lk := tx.store.lock(id)
	select {
	case lk <- struct{}{}:
	case <-ctx.Done():
		return Wallet{}, fmt.Errorf("%w: lock wait: %v", ErrStoreUnavailable, ctx.Err())
	}
	tx.held = append(tx.held, lk)

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	balance, ok := tx.store.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return Wallet{ID: id, Balance: balance}, nil
}

func (tx *memoryTx) SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tx.staged[id] = balance
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("%w: commit on finished tx", ErrStoreUnavailable)
	}

	tx.store.mu.Lock()
	for id, balance := range tx.staged {
		tx.store.wallets[id] = balance
	}
	tx.store.mu.Unlock()

	tx.release()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

var _ Store = (*MemoryStore)(nil)

func (tx *memoryTx) release() {
	tx.done = true
	for _, lk := range tx.held {
		<-lk
	}
	tx.held = nil
}
