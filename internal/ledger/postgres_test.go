package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenseed/greenseed_wallet/internal/infra"
	"github.com/greenseed/greenseed_wallet/internal/logging"
)

func newPostgresStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := infra.NewPostgresPool(ctx, url)
	require.NoError(t, err, "connect")
	t.Cleanup(pool.Close)
	require.NoError(t, infra.Migrate(ctx, pool, logging.Discard()), "migrate")
	return NewPostgresStore(pool), pool
}

func uniqueAddress() string {
	return fmt.Sprintf("0x%040x", uuid.New().ID())
}

func TestPostgresStore_DepositAndDuplicate(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()
	w, created, err := store.CreateWallet(ctx, uniqueAddress())
	require.NoError(t, err)
	require.True(t, created)
	writer := NewWriter(store, FixedRate(dec("0.5")))

	p := deposit(w.ID, "3")
	p.ClientTxID = "pg-1"
	first, err := writer.Record(ctx, p)
	require.NoError(t, err)
	again, err := writer.Record(ctx, p)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, first.ID, again.ID)

	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SeedBalance.Equal(dec("3")), "seed %s", got.SeedBalance)
	assert.Equal(t, int64(1), got.DepositCount)
	assert.Len(t, first.Effects, 2)
}

func TestPostgresStore_DuplicateRejectedOnAppend(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()
	w, _, err := store.CreateWallet(ctx, uniqueAddress())
	require.NoError(t, err)

	p := deposit(w.ID, "3")
	p.ClientTxID = "pg-race"
	first, err := NewWriter(store, FixedRate(dec("0.5"))).Record(ctx, p)
	require.NoError(t, err)

	// the unique index rejects the insert once the lookup misses
	racing := &racingStore{Store: store}
	second, err := NewWriter(racing, FixedRate(dec("0.5"))).Record(ctx, p)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, first.ID, second.ID)

	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SeedBalance.Equal(dec("3")), "seed %s", got.SeedBalance)
}

func TestPostgresStore_ConcurrentDeposits(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()
	w, _, err := store.CreateWallet(ctx, uniqueAddress())
	require.NoError(t, err)
	writer := NewWriter(store, FixedRate(dec("0.5")))

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := writer.Record(ctx, deposit(w.ID, "1.5"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SeedBalance.Equal(dec("15")), "expected 15, got %s", got.SeedBalance)
}

func TestPostgresStore_RedemptionDecrementsStock(t *testing.T) {
	store, pool := newPostgresStore(t)
	ctx := context.Background()
	rewardID := "reward-" + uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO rewards (id, name, type, cost, stock) VALUES ($1, 'Bolsa', 'physical', 5, 1)`, rewardID)
	require.NoError(t, err)
	w, _, err := store.CreateWallet(ctx, uniqueAddress())
	require.NoError(t, err)
	writer := NewWriter(store, FixedRate(dec("0.5")))
	_, err = writer.Record(ctx, deposit(w.ID, "12"))
	require.NoError(t, err)

	redeem := Posting{WalletID: w.ID, Kind: KindRedemption, SeedDelta: dec("-5"), RewardID: rewardID, Reference: rewardID,
		Effects: []EffectKind{EffectFulfillment}}
	_, err = writer.Record(ctx, redeem)
	require.NoError(t, err)
	_, err = writer.Record(ctx, redeem)
	require.ErrorIs(t, err, ErrOutOfStock)

	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SeedBalance.Equal(dec("7")), "expected 7 after one redemption, got %s", got.SeedBalance)
}

func TestPostgresStore_EntriesAreAppendOnly(t *testing.T) {
	store, pool := newPostgresStore(t)
	ctx := context.Background()
	w, _, err := store.CreateWallet(ctx, uniqueAddress())
	require.NoError(t, err)
	entry, err := NewWriter(store, FixedRate(dec("0.5"))).Record(ctx, deposit(w.ID, "1"))
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE ledger_entries SET seed_delta = 100 WHERE id = $1`, entry.ID)
	assert.Error(t, err, "update of a ledger entry must be rejected")
}
