package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/walletd/internal/events"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newTestWallet(t *testing.T, store *MemoryStore, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Create(context.Background(), Wallet{ID: id, Balance: dec(t, balance)})
	require.NoError(t, err)
	return id
}

func storedBalance(t *testing.T, store *MemoryStore, id uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

func TestApplyCredit(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	balance, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "500.00")})

	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "1500.00")), "got %s", balance)
	assert.True(t, storedBalance(t, store, id).Equal(dec(t, "1500.00")))
}

func TestApplyDebit(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	balance, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, "300.00")})

	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "700.00")), "got %s", balance)
	assert.True(t, storedBalance(t, store, id).Equal(dec(t, "700.00")))
}

func TestApplyDebitInsufficientFunds(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, "2000.00")})

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Balance.Equal(dec(t, "1000.00")))

	// Failed apply leaves the stored balance untouched.
	assert.True(t, storedBalance(t, store, id).Equal(dec(t, "1000.00")))
}

func TestApplyUnknownWallet(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := uuid.New()

	_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "100.00")})
	require.ErrorIs(t, err, ErrWalletNotFound)

	// No record is created as a side effect.
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestApplyValidation(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	cases := []struct {
		name string
		op   Operation
	}{
		{"zero amount", Operation{WalletID: id, Kind: KindCredit, Amount: decimal.Zero}},
		{"negative amount", Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, "-5.00")}},
		{"too many fraction digits", Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "1.001")}},
		{"unknown kind", Operation{WalletID: id, Kind: OperationKind("transfer"), Amount: dec(t, "1.00")}},
		{"missing wallet id", Operation{Kind: KindCredit, Amount: dec(t, "1.00")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Apply(context.Background(), tc.op)
			require.ErrorIs(t, err, ErrInvalidOperation)
			assert.True(t, storedBalance(t, store, id).Equal(dec(t, "1000.00")))
		})
	}
}

func TestApplyRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	for _, amount := range []string{"0.01", "123.45", "999999.99"} {
		_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, amount)})
		require.NoError(t, err)

		balance, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, amount)})
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(t, "1000.00")), "round trip of %s left %s", amount, balance)
	}
}

func TestConcurrentCredits(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, storedBalance(t, store, id).Equal(dec(t, "1500.00")))
}

func TestConcurrentDebits(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "1000.00")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, "10.00")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, storedBalance(t, store, id).Equal(dec(t, "500.00")))
}

func TestConcurrentOverdraw(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "100.00")

	// 50 debits of 30.00 against 100.00: exactly three can succeed, the
	// rest must fail without ever driving the balance negative.
	var wg sync.WaitGroup
	results := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindDebit, Amount: dec(t, "30.00")})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.False(t, insufficient.Balance.IsNegative())
	}

	assert.Equal(t, 3, succeeded)
	final := storedBalance(t, store, id)
	assert.True(t, final.Equal(dec(t, "10.00")), "got %s", final)
	assert.False(t, final.IsNegative())
}

func TestDistinctWalletsIndependent(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	a := newTestWallet(t, store, "1000.00")
	b := newTestWallet(t, store, "1000.00")

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		for _, id := range []uuid.UUID{a, b} {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "1.00")})
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, storedBalance(t, store, a).Equal(dec(t, "1050.00")))
	assert.True(t, storedBalance(t, store, b).Equal(dec(t, "1050.00")))
}

// faultStore fails Begin a configurable number of times before delegating
// to a real memory store.
type faultStore struct {
	*MemoryStore
	beginErr   error
	failsLeft  int
	beginCalls int
}

func (f *faultStore) Begin(ctx context.Context) (Tx, error) {
	f.beginCalls++
	if f.failsLeft > 0 {
		f.failsLeft--
		return nil, f.beginErr
	}
	return f.MemoryStore.Begin(ctx)
}

func TestApplyStoreUnavailable(t *testing.T) {
	store := &faultStore{
		MemoryStore: NewMemoryStore(),
		beginErr:    fmt.Errorf("%w: connection refused", ErrStoreUnavailable),
		failsLeft:   1,
	}
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store.MemoryStore, "1000.00")

	_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})

	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, store.beginCalls, "hard store faults must not be retried")
	assert.True(t, storedBalance(t, store.MemoryStore, id).Equal(dec(t, "1000.00")))
}

func TestApplyRetriesConflicts(t *testing.T) {
	store := &faultStore{
		MemoryStore: NewMemoryStore(),
		beginErr:    fmt.Errorf("%w: simulated deadlock", errTxConflict),
		failsLeft:   2,
	}
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store.MemoryStore, "1000.00")

	balance, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})

	require.NoError(t, err)
	assert.Equal(t, 3, store.beginCalls)
	assert.True(t, balance.Equal(dec(t, "1010.00")))
}

func TestApplyConflictRetriesExhausted(t *testing.T) {
	store := &faultStore{
		MemoryStore: NewMemoryStore(),
		beginErr:    fmt.Errorf("%w: simulated deadlock", errTxConflict),
		failsLeft:   3,
	}
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store.MemoryStore, "1000.00")

	_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})

	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, storedBalance(t, store.MemoryStore, id).Equal(dec(t, "1000.00")))
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.OperationCommitted
	err    error
}

func (p *capturingPublisher) Publish(ctx context.Context, ev events.OperationCommitted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestApplyPublishesEvent(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturingPublisher{}
	svc := NewService(store, pub, nil)
	id := newTestWallet(t, store, "1000.00")

	_, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "25.50")})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, id.String(), ev.WalletID)
	assert.Equal(t, "credit", ev.Kind)
	assert.True(t, ev.Amount.Equal(dec(t, "25.50")))
	assert.True(t, ev.Balance.Equal(dec(t, "1025.50")))
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestApplySucceedsWhenPublishFails(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturingPublisher{err: errors.New("broker down")}
	svc := NewService(store, pub, nil)
	id := newTestWallet(t, store, "1000.00")

	balance, err := svc.Apply(context.Background(), Operation{WalletID: id, Kind: KindCredit, Amount: dec(t, "10.00")})

	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "1010.00")))
}

func TestBalance(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	id := newTestWallet(t, store, "42.42")

	balance, err := svc.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "42.42")))

	_, err = svc.Balance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = svc.Balance(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestCreateWallet(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)

	created, err := svc.CreateWallet(context.Background(), uuid.Nil, dec(t, "100.00"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.True(t, created.Balance.Equal(dec(t, "100.00")))

	_, err = svc.CreateWallet(context.Background(), created.ID, decimal.Zero)
	assert.ErrorIs(t, err, ErrWalletExists)

	_, err = svc.CreateWallet(context.Background(), uuid.Nil, dec(t, "-1.00"))
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = svc.CreateWallet(context.Background(), uuid.Nil, dec(t, "1.999"))
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
