package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubStock struct {
	mu    sync.Mutex
	units map[string]int64
}

func (s *stubStock) Reserve(rewardID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.units[rewardID]
	if !ok {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ErrNotFound)
	}
	if n <= 0 {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ErrOutOfStock)
	}
	s.units[rewardID] = n - 1
	return n - 1, nil
}

func (s *stubStock) Release(rewardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[rewardID]++
}

// racingStore hides committed client transaction ids from the first lookup,
// the way a concurrent writer on another connection would, so the backend's
// own uniqueness check is what rejects the append. uniqueOnAppend emulates
// that check for backends without a unique index.
type racingStore struct {
	Store
	hidden         bool
	uniqueOnAppend bool
}

type racingTx struct {
	Tx
	store *racingStore
}

func (s *racingStore) Apply(ctx context.Context, walletID string, fn func(tx Tx) error) error {
	return s.Store.Apply(ctx, walletID, func(tx Tx) error {
		return fn(&racingTx{Tx: tx, store: s})
	})
}

func (tx *racingTx) FindByClientTxID(kind Kind, clientTxID string) (Entry, bool, error) {
	if !tx.store.hidden {
		tx.store.hidden = true
		return Entry{}, false, nil
	}
	return tx.Tx.FindByClientTxID(kind, clientTxID)
}

func (tx *racingTx) Append(entry Entry) error {
	if !tx.store.uniqueOnAppend {
		return tx.Tx.Append(entry)
	}
	if _, found, err := tx.Tx.FindByClientTxID(entry.Kind, entry.ClientTxID); err != nil {
		return err
	} else if found {
		return ErrDuplicateTransaction
	}
	return tx.Tx.Append(entry)
}

func newTestWriter(t *testing.T, opts ...InMemoryOption) (Store, *Writer, Wallet) {
	t.Helper()
	store := NewInMemory(opts...)
	w, created, err := store.CreateWallet(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.True(t, created, "expected a new wallet")
	return store, NewWriter(store, FixedRate(dec("0.5"))), w
}

func deposit(walletID, amount string) Posting {
	return Posting{
		WalletID:  walletID,
		Kind:      KindDeposit,
		SeedDelta: dec(amount),
		Rate:      dec(amount),
		Reference: "Aluminio",
		Quantity:  1,
		Effects:   []EffectKind{EffectTransfer, EffectAutoSwap},
	}
}

func TestWriter_DepositCreditsSeedAndLifetime(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()

	entry, err := writer.Record(ctx, deposit(w.ID, "3.0"))
	require.NoError(t, err)
	assert.True(t, entry.SeedDelta.Equal(dec("3")), "seed delta %s", entry.SeedDelta)
	assert.True(t, entry.StableDelta.IsZero(), "stable delta %s", entry.StableDelta)
	eff, ok := entry.Effect(EffectTransfer)
	require.True(t, ok)
	assert.Equal(t, EffectNotAttempted, eff.Status)

	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SeedBalance.Equal(dec("3")), "seed %s", got.SeedBalance)
	assert.True(t, got.LifetimeEarned.Equal(dec("3")), "lifetime %s", got.LifetimeEarned)
	assert.Equal(t, int64(1), got.DepositCount)

	history, err := store.Entries(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, KindDeposit, history[0].Kind)
}

func TestWriter_SwapUsesRateAtCommit(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()
	_, err := writer.Record(ctx, deposit(w.ID, "3.0"))
	require.NoError(t, err)

	entry, err := writer.Record(ctx, Posting{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("-3.0"), SwapMode: SwapManual})
	require.NoError(t, err)
	assert.True(t, entry.SeedDelta.Equal(dec("-3")), "seed delta %s", entry.SeedDelta)
	assert.True(t, entry.StableDelta.Equal(dec("1.5")), "stable delta %s", entry.StableDelta)
	assert.True(t, entry.Rate.Equal(dec("0.5")), "rate %s", entry.Rate)

	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.IsZero(), "seed %s", got.SeedBalance)
	assert.True(t, got.StableBalance.Equal(dec("1.5")), "stable %s", got.StableBalance)
	assert.True(t, got.LifetimeEarned.Equal(dec("3")), "swap must not reduce lifetime earned, got %s", got.LifetimeEarned)
}

func TestWriter_SwapRejectsStaleQuote(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()
	SeedBalance(store, w.ID, dec("4"), decimal.Zero)

	_, err := writer.Record(ctx, Posting{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("-2"), StableDelta: dec("2"), SwapMode: SwapManual})
	require.ErrorIs(t, err, ErrValidation)
	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.Equal(dec("4")), "balance changed after rejected swap: %s", got.SeedBalance)
}

func TestWriter_RedemptionInsufficientBalance(t *testing.T) {
	stock := &stubStock{units: map[string]int64{"tree": 5}}
	store, writer, w := newTestWriter(t, WithStockKeeper(stock))
	ctx := context.Background()
	SeedBalance(store, w.ID, dec("1.0"), decimal.Zero)

	_, err := writer.Record(ctx, Posting{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-5.0"), RewardID: "tree", Reference: "tree"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	var shortErr *InsufficientBalanceError
	require.ErrorAs(t, err, &shortErr)
	assert.True(t, shortErr.Shortfall().Equal(dec("4")), "shortfall %s", shortErr.Shortfall())

	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.Equal(dec("1")), "balance changed: %s", got.SeedBalance)
	history, _ := store.Entries(ctx, w.ID, 0)
	assert.Empty(t, history)
	assert.Equal(t, int64(5), stock.units["tree"])
}

func TestWriter_RedemptionOutOfStockReleasesNothing(t *testing.T) {
	stock := &stubStock{units: map[string]int64{"tree": 0}}
	store, writer, w := newTestWriter(t, WithStockKeeper(stock))
	ctx := context.Background()
	SeedBalance(store, w.ID, dec("10"), decimal.Zero)

	_, err := writer.Record(ctx, Posting{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-5"), RewardID: "tree"})
	require.ErrorIs(t, err, ErrOutOfStock)
	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.Equal(dec("10")), "balance changed: %s", got.SeedBalance)
}

func TestWriter_DuplicateClientTx(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()

	p := deposit(w.ID, "2")
	p.ClientTxID = "kiosk-7:42"
	first, err := writer.Record(ctx, p)
	require.NoError(t, err)
	second, err := writer.Record(ctx, p)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, first.ID, second.ID)
	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.Equal(dec("2")), "duplicate credited twice: %s", got.SeedBalance)
}

func TestWriter_DuplicateRejectedOnAppendReturnsCommittedEntry(t *testing.T) {
	base := NewInMemory()
	ctx := context.Background()
	w, _, err := base.CreateWallet(ctx, "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)

	p := deposit(w.ID, "2")
	p.ClientTxID = "kiosk-9:7"
	first, err := NewWriter(base, FixedRate(dec("0.5"))).Record(ctx, p)
	require.NoError(t, err)

	racing := &racingStore{Store: base, uniqueOnAppend: true}
	second, err := NewWriter(racing, FixedRate(dec("0.5"))).Record(ctx, p)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.True(t, racing.hidden, "first lookup should have been hidden")
	assert.Equal(t, first.ID, second.ID, "must return the committed entry, not the rejected one")
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	history, err := base.Entries(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	got, _ := base.Wallet(ctx, w.ID)
	assert.True(t, got.SeedBalance.Equal(dec("2")), "duplicate credited twice: %s", got.SeedBalance)
}

func TestWriter_ValidationRejectsMalformedPostings(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()
	SeedBalance(store, w.ID, dec("10"), decimal.Zero)

	cases := []struct {
		name string
		p    Posting
	}{
		{"missing wallet", Posting{Kind: KindDeposit, SeedDelta: dec("1"), Quantity: 1}},
		{"negative deposit", Posting{WalletID: w.ID, Kind: KindDeposit, SeedDelta: dec("-1"), Quantity: 1}},
		{"deposit with stable", Posting{WalletID: w.ID, Kind: KindDeposit, SeedDelta: dec("1"), StableDelta: dec("1"), Quantity: 1}},
		{"deposit without quantity", Posting{WalletID: w.ID, Kind: KindDeposit, SeedDelta: dec("1")}},
		{"positive swap", Posting{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("1"), SwapMode: SwapManual}},
		{"swap unknown mode", Posting{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("-1"), SwapMode: "turbo"}},
		{"positive redemption", Posting{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("1")}},
		{"redemption with stable", Posting{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-1"), StableDelta: dec("1")}},
		{"unknown kind", Posting{WalletID: w.ID, Kind: "mint", SeedDelta: dec("1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := writer.Record(ctx, tc.p)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	history, _ := store.Entries(ctx, w.ID, 0)
	assert.Empty(t, history)
}

func TestWriter_UnknownWallet(t *testing.T) {
	_, writer, _ := newTestWriter(t)
	_, err := writer.Record(context.Background(), deposit("missing", "1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriter_ConcurrentDepositsNoLostUpdates(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()
	SeedBalance(store, w.ID, dec("5"), decimal.Zero)

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := writer.Record(ctx, deposit(w.ID, "1.5"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := store.Wallet(ctx, w.ID)
	want := dec("5").Add(dec("1.5").Mul(decimal.NewFromInt(workers)))
	assert.True(t, got.SeedBalance.Equal(want), "expected balance %s, got %s", want, got.SeedBalance)
	history, _ := store.Entries(ctx, w.ID, 0)
	assert.Len(t, history, workers)
}

func TestWriter_RedemptionRaceOnLastUnit(t *testing.T) {
	stock := &stubStock{units: map[string]int64{"bike": 1}}
	store := NewInMemory(WithStockKeeper(stock))
	writer := NewWriter(store, FixedRate(dec("0.5")))
	ctx := context.Background()

	var wallets []Wallet
	for _, addr := range []string{"0x01", "0x02"} {
		w, _, err := store.CreateWallet(ctx, addr)
		require.NoError(t, err)
		SeedBalance(store, w.ID, dec("100"), decimal.Zero)
		wallets = append(wallets, w)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, outs int
	)
	for _, w := range wallets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := writer.Record(ctx, Posting{WalletID: id, Kind: KindRedemption, SeedDelta: dec("-10"), RewardID: "bike"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrOutOfStock):
				outs++
			default:
				assert.NoError(t, err)
			}
		}(w.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, ok, "successful redemptions")
	assert.Equal(t, 1, outs, "out of stock redemptions")
}

func TestWriter_ReplayMatchesBalances(t *testing.T) {
	stock := &stubStock{units: map[string]int64{"cap": 100}}
	store, writer, w := newTestWriter(t, WithStockKeeper(stock))
	ctx := context.Background()

	ops := []Posting{
		deposit(w.ID, "3"),
		deposit(w.ID, "2"),
		{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("-1.25"), SwapMode: SwapManual},
		{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-2"), RewardID: "cap"},
		{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-50"), RewardID: "cap"},
		{WalletID: w.ID, Kind: KindSwap, SeedDelta: dec("-9"), SwapMode: SwapAuto},
		deposit(w.ID, "0.8"),
	}
	for _, p := range ops {
		_, _ = writer.Record(ctx, p)

		got, _ := store.Wallet(ctx, w.ID)
		require.False(t, got.SeedBalance.IsNegative() || got.StableBalance.IsNegative(), "negative balance: %+v", got)
		require.False(t, got.SeedBalance.GreaterThan(got.LifetimeEarned), "seed %s exceeds lifetime %s", got.SeedBalance, got.LifetimeEarned)
	}

	history, _ := store.Entries(ctx, w.ID, 0)
	seed, stable := decimal.Zero, decimal.Zero
	for _, e := range history {
		seed = seed.Add(e.SeedDelta)
		stable = stable.Add(e.StableDelta)
	}
	got, _ := store.Wallet(ctx, w.ID)
	assert.True(t, seed.Equal(got.SeedBalance), "replayed seed %s, balance %s", seed, got.SeedBalance)
	assert.True(t, stable.Equal(got.StableBalance), "replayed stable %s, balance %s", stable, got.StableBalance)
}

func TestInMemoryStore_SetEffectKeepsDeltas(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()
	entry, err := writer.Record(ctx, deposit(w.ID, "3"))
	require.NoError(t, err)

	updated, err := store.SetEffect(ctx, entry.ID, Effect{Kind: EffectTransfer, Status: EffectFailed, Error: "timeout", Attempts: 1})
	require.NoError(t, err)
	eff, _ := updated.Effect(EffectTransfer)
	assert.Equal(t, EffectFailed, eff.Status)
	assert.Equal(t, 1, eff.Attempts)
	assert.True(t, updated.SeedDelta.Equal(entry.SeedDelta), "financial fields changed")
	assert.True(t, updated.CreatedAt.Equal(entry.CreatedAt), "financial fields changed")
	swapEff, _ := updated.Effect(EffectAutoSwap)
	assert.Equal(t, EffectNotAttempted, swapEff.Status)

	_, err = store.SetEffect(ctx, "nope", Effect{Kind: EffectTransfer})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_StaleEffects(t *testing.T) {
	store, writer, w := newTestWriter(t)
	ctx := context.Background()

	old, _ := writer.Record(ctx, deposit(w.ID, "1"))
	done, _ := writer.Record(ctx, deposit(w.ID, "1"))
	for _, kind := range []EffectKind{EffectTransfer, EffectAutoSwap} {
		_, err := store.SetEffect(ctx, done.ID, Effect{Kind: kind, Status: EffectSucceeded})
		require.NoError(t, err)
	}

	stale, err := store.StaleEffects(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	none, _ := store.StaleEffects(ctx, time.Now().Add(-time.Hour), 10)
	assert.Empty(t, none, "grace period ignored")
}

func TestInMemoryStore_CreateWalletIsIdempotent(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	first, created, err := store.CreateWallet(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, created)
	second, created, err := store.CreateWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, err = store.WalletByAddress(ctx, "0xdef")
	assert.ErrorIs(t, err, ErrNotFound)
}
