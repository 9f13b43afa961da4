package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const queryTimeout = 5 * time.Second

// Schema is the wallets table. The CHECK constraint backs up the engine's
// non-negative invariant at the storage layer; NUMERIC keeps balances exact.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
    id UUID PRIMARY KEY,
    balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore implements Store on a pgx connection pool. The exclusive
// per-wallet lock is the row lock taken by SELECT ... FOR UPDATE; it is
// held until the surrounding transaction commits or rolls back, and rows
// for other wallets stay untouched.
type PostgresStore struct {
	Pool *pgxpool.Pool

	// LockTimeout bounds how long GetForUpdate waits on a contended row
	// before the attempt fails as a retryable conflict.
	LockTimeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool, LockTimeout: 3 * time.Second}
}

// EnsureSchema creates the wallets table if missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Wallet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var raw string
	err := p.Pool.QueryRow(queryCtx,
		`SELECT balance::text FROM wallets WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, classifyPgError(err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: bad balance %q: %v", ErrStoreUnavailable, raw, err)
	}
	return Wallet{ID: id, Balance: balance}, nil
}

func (p *PostgresStore) Create(ctx context.Context, w Wallet) (Wallet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := p.Pool.Exec(queryCtx,
		`INSERT INTO wallets (id, balance) VALUES ($1, $2::numeric)`,
		w.ID, w.Balance.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, classifyPgError(err)
	}
	return w, nil
}

func (p *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrStoreUnavailable, err)
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrStoreUnavailable, err)
	}

	// Bounded lock wait: a FOR UPDATE blocked past this becomes a 55P03,
	// classified retryable below instead of hanging the caller.
	timeout := p.LockTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("%w: set lock_timeout: %v", ErrStoreUnavailable, err)
	}

	return &postgresTx{conn: conn, tx: tx}, nil
}

type postgresTx struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
	done bool
}

func (t *postgresTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Wallet, error) {
	var raw string
	err := t.tx.QueryRow(ctx,
		`SELECT balance::text FROM wallets WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, classifyPgError(err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: bad balance %q: %v", ErrStoreUnavailable, raw, err)
	}
	return Wallet{ID: id, Balance: balance}, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (id, balance, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
	`, id, balance.String())
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: commit on finished tx", ErrStoreUnavailable)
	}
	t.done = true
	defer t.conn.Release()

	if err := t.tx.Commit(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Release()

	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classifyPgError(err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// classifyPgError splits storage failures into retryable conflicts and
// hard unavailability. 40001 serialization failure, 40P01 deadlock and
// 55P03 lock_not_available all clear after the competing tx finishes.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s %s", errTxConflict, pgErr.Code, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
