package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema stores balances as text so amounts stay exact; SQLite's
// NUMERIC affinity would silently degrade to binary floating point.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    id TEXT PRIMARY KEY,
    balance TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// OpenSQLite opens (and creates if needed) the wallet database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=3000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return db, nil
}

// SQLiteStore is a single-node Store for local development. SQLite has no
// row locks, so the exclusive per-wallet lock lives in an in-process lock
// table and the database transaction only carries the write.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[uuid.UUID]chan struct{}
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		locks: make(map[uuid.UUID]chan struct{}),
	}
}

func (s *SQLiteStore) lock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	lk, ok := s.locks[id]
	if !ok {
		lk = make(chan struct{}, 1)
		s.locks[id] = lk
	}
	return lk
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Wallet, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE id = ?`, id.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: bad balance %q: %v", ErrStoreUnavailable, raw, err)
	}
	return Wallet{ID: id, Balance: balance}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, w Wallet) (Wallet, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (id, balance) VALUES (?, ?)`,
		w.ID.String(), w.Balance.String())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return w, nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	return &sqliteTx{store: s}, nil
}

// sqliteTx defers opening the database transaction until the first write:
// the wallet lock alone serializes readers-for-update, and SQLite allows
// only one writer at a time anyway.
type sqliteTx struct {
	store *SQLiteStore
	dbTx  *sql.Tx
	held  []chan struct{}
	done  bool
}

func (t *sqliteTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Wallet, error) {
	lk := t.store.lock(id)
	select {
	case lk <- struct{}{}:
	case <-ctx.Done():
		return Wallet{}, fmt.Errorf("%w: lock wait: %v", ErrStoreUnavailable, ctx.Err())
	}
	t.held = append(t.held, lk)

	return t.store.Get(ctx, id)
}

func (t *sqliteTx) SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if t.dbTx == nil {
		dbTx, err := t.store.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
		}
		t.dbTx = dbTx
	}

	_, err := t.dbTx.ExecContext(ctx, `
		INSERT INTO wallets (id, balance, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance, updated_at = CURRENT_TIMESTAMP
	`, id.String(), balance.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: commit on finished tx", ErrStoreUnavailable)
	}
	defer t.release()

	if t.dbTx != nil {
		if err := t.dbTx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	defer t.release()

	if t.dbTx != nil {
		if err := t.dbTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)

func (t *sqliteTx) release() {
	t.done = true
	for _, lk := range t.held {
		<-lk
	}
	t.held = nil
}
