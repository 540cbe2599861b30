package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SwapRate.Equal(decimal.RequireFromString("0.5")), "swap rate %s", cfg.SwapRate)
	assert.Equal(t, 15*time.Second, cfg.EffectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileGrace)
	assert.True(t, cfg.AutoSwapEnabled)
	assert.Equal(t, BackendStatic, cfg.TransferBackend)
	assert.EqualValues(t, 18, cfg.SeedTokenDecimals)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadRequiresStoresOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err := Load()
	assert.Error(t, err, "expected missing DATABASE_URL error")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SWAP_RATE":         "-1",
		"EFFECT_TIMEOUT":    "soon",
		"CATALOG_CACHE_TTL": "later",
		"AUTO_SWAP_ENABLED": "maybe",
		"TRANSFER_BACKEND":  "carrier-pigeon",
		"RECONCILE_BATCH":   "many",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("APP_ENV", "development")
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err, "%s=%s", key, value)
		})
	}
}

func TestLoadRejectsNonPositiveEffectTimeout(t *testing.T) {
	for _, value := range []string{"0s", "-5s"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("APP_ENV", "development")
			t.Setenv("EFFECT_TIMEOUT", value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "EFFECT_TIMEOUT")
		})
	}
}

func TestLoadEVMBackendNeedsChainSettings(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TRANSFER_BACKEND", "evm")
	t.Setenv("EVM_RPC_URL", "http://localhost:8545")
	_, err := Load()
	require.Error(t, err, "expected error without token address and key")

	t.Setenv("EVM_CHAIN_ID", "11155111")
	t.Setenv("SEED_TOKEN_ADDRESS", "0x00000000000000000000000000000000000000a1")
	t.Setenv("TREASURY_PRIVATE_KEY", "0xabc")
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 11155111, cfg.EVMChainID)
}
