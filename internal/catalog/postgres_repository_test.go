package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenseed/greenseed_wallet/internal/infra"
	"github.com/greenseed/greenseed_wallet/internal/logging"
)

func newPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := infra.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.Migrate(ctx, pool, logging.Discard()))
	return NewPostgresRepository(pool)
}

func TestPostgresRepository_ReseedKeepsStock(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	id := "bike-" + uuid.NewString()
	seed := Seed{Rewards: []Reward{{ID: id, Name: "Bicicleta", Type: RewardPhysical, Cost: decimal.NewFromInt(5), Stock: 1}}}
	require.NoError(t, repo.Seed(ctx, seed))

	_, err := repo.db.Exec(ctx, `UPDATE rewards SET stock = stock - 1 WHERE id = $1`, id)
	require.NoError(t, err)

	seed.Rewards[0].Cost = decimal.NewFromInt(7)
	require.NoError(t, repo.Seed(ctx, seed))

	reward, err := repo.Reward(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reward.Stock)
	assert.True(t, reward.Cost.Equal(decimal.NewFromInt(7)))

	rate, err := repo.MaterialRate(ctx, "Aluminio")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("3")))
}
