package wallet

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests against a real PostgreSQL. Point WALLETD_TEST_DATABASE_URL
// at a scratch database to enable them:
//
//	WALLETD_TEST_DATABASE_URL=postgres://localhost/wallet_test go test ./internal/wallet/
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	databaseURL := os.Getenv("WALLETD_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("WALLETD_TEST_DATABASE_URL not set, skipping postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestPostgresApplyIntegration(t *testing.T) {
	store := newPostgresTestStore(t)
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateWallet(ctx, uuid.Nil, dec(t, "1000.00"))
	require.NoError(t, err)

	balance, err := svc.Apply(ctx, Operation{WalletID: created.ID, Kind: KindCredit, Amount: dec(t, "500.00")})
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "1500.00")))

	balance, err = svc.Apply(ctx, Operation{WalletID: created.ID, Kind: KindDebit, Amount: dec(t, "300.00")})
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "1200.00")))

	_, err = svc.Apply(ctx, Operation{WalletID: created.ID, Kind: KindDebit, Amount: dec(t, "5000.00")})
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Balance.Equal(dec(t, "1200.00")))

	w, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(t, "1200.00")))
}

func TestPostgresApplyUnknownWalletIntegration(t *testing.T) {
	store := newPostgresTestStore(t)
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.Apply(ctx, Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})
	require.ErrorIs(t, err, ErrWalletNotFound)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestPostgresConcurrentDebitsIntegration(t *testing.T) {
	store := newPostgresTestStore(t)
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateWallet(ctx, uuid.Nil, dec(t, "1000.00"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(ctx, Operation{WalletID: created.ID, Kind: KindDebit, Amount: dec(t, "10.00")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	w, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(t, "500.00")), "got %s", w.Balance)
}

func TestPostgresCreateDuplicateIntegration(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := store.Create(ctx, Wallet{ID: id, Balance: dec(t, "1.00")})
	require.NoError(t, err)

	_, err = store.Create(ctx, Wallet{ID: id, Balance: dec(t, "2.00")})
	assert.ErrorIs(t, err, ErrWalletExists)
}
