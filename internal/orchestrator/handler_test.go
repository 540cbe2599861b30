package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenseed/greenseed_wallet/internal/chain"
	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

func newTestApp(env *testEnv) *fiber.App {
	h := NewHandler(env.svc)
	app := fiber.New()
	app.Post("/wallets/:walletId/deposits", h.Deposit)
	app.Post("/wallets/:walletId/swaps", h.Swap)
	app.Post("/wallets/:walletId/redemptions", h.Redeem)
	app.Post("/entries/:entryId/effects/:effect/retry", h.RetryEffect)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandler_DepositReportsDegradedSuccess(t *testing.T) {
	failing := chain.TransferFunc(func(context.Context, string, decimal.Decimal) (chain.TransferReceipt, error) {
		return chain.TransferReceipt{}, errors.New("node unreachable")
	})
	env := newEnv(t, failing, okSwapper())
	app := newTestApp(env)

	resp, body := postJSON(t, app, "/wallets/"+env.wallet.ID+"/deposits", `{"material":"Aluminio","quantity":1,"client_tx_id":"k-1"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["degraded"])
	transfer := body["transfer"].(map[string]any)
	assert.Equal(t, "failed", transfer["status"])
	entry := body["entry"].(map[string]any)
	assert.Equal(t, "3", entry["seed_delta"])

	resp, _ = postJSON(t, app, "/wallets/"+env.wallet.ID+"/deposits", `{"material":"Aluminio","quantity":1,"client_tx_id":"k-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	entryID := entry["id"].(string)
	resp, _ = postJSON(t, app, "/entries/"+entryID+"/effects/transfer/retry", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_SwapAndRedeemErrors(t *testing.T) {
	env := newEnv(t, chain.StaticTransferer{}, okSwapper())
	app := newTestApp(env)
	ledger.SeedBalance(env.store, env.wallet.ID, dec("3"), decimal.Zero)

	resp, body := postJSON(t, app, "/wallets/"+env.wallet.ID+"/swaps", `{"seed_amount":"3.0","mode":"manual"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1.5", body["stable_delta"])

	resp, body = postJSON(t, app, "/wallets/"+env.wallet.ID+"/redemptions", `{"reward_id":"tree-nft"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "5", body["shortfall"])

	resp, _ = postJSON(t, app, "/wallets/"+env.wallet.ID+"/swaps", `{"seed_amount":"1","mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, app, "/wallets/unknown/deposits", `{"material":"Vidrio"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
