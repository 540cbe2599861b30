package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenseed/greenseed_wallet/internal/logging"
)

func setupTestApp(t *testing.T) *fiber.App {
	app, _ := setupCountingApp(t)
	return app
}

func setupCountingApp(t *testing.T) (*fiber.App, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	calls := 0
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": calls})
	})
	app.Post("/flaky", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
	})
	return app, &calls
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupCountingApp(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	assert.Equal(t, 2, *calls, "handler should run for every request")
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupCountingApp(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/flaky", strings.NewReader("{}"))
		req.Header.Set(idempotencyKeyHeader, "retry-me")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	}
	assert.Equal(t, 2, *calls, "the retry should reach the handler")
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, "abc123")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	// Second request should return the cached response without invoking handler again.
	req2 := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req2.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req2.Header.Set(idempotencyKeyHeader, "abc123")

	resp2, err := app.Test(req2)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp2.StatusCode)
	cachedPayload, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	resp2.Body.Close()

	assert.Equal(t, string(payload), string(cachedPayload))
	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(cachedPayload, &decoded), "cached payload must be valid json")
}

func newIdempotentApp(t *testing.T) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/wallets/:walletId/deposits", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"wallet": c.Params("walletId")})
	})
	return app, mr
}

func postWithKey(t *testing.T, app *fiber.App, path, key, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, key)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestIdempotencyMarksReplays(t *testing.T) {
	app, _ := newIdempotentApp(t)

	first := postWithKey(t, app, "/wallets/w1/deposits", "dep-1", `{"material":"Vidrio"}`)
	assert.Empty(t, first.Header.Get(idempotencyReplayHeader), "first response must not be marked as a replay")
	second := postWithKey(t, app, "/wallets/w1/deposits", "dep-1", `{"material":"Vidrio"}`)
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(idempotencyReplayHeader))
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, _ := newIdempotentApp(t)

	postWithKey(t, app, "/wallets/w1/deposits", "dep-2", `{"material":"Vidrio"}`)
	resp := postWithKey(t, app, "/wallets/w1/deposits", "dep-2", `{"material":"Papel"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIdempotencyConflictsWhileInProgress(t *testing.T) {
	app, mr := newIdempotentApp(t)
	require.NoError(t, mr.Set(idempotencyPrefix+"POST:/wallets/w1/deposits:dep-3", inProgressMarker))
	resp := postWithKey(t, app, "/wallets/w1/deposits", "dep-3", `{}`)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
