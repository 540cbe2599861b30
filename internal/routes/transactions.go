package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/orchestrator"
)

// RegisterTransactionRoutes wires deposit, swap and redemption endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *orchestrator.Handler, depositLimit fiber.Handler) {
	if depositLimit != nil {
		r.Post("/wallets/:walletId/deposits", depositLimit, h.Deposit)
	} else {
		r.Post("/wallets/:walletId/deposits", h.Deposit)
	}
	r.Post("/wallets/:walletId/swaps", h.Swap)
	r.Post("/wallets/:walletId/redemptions", h.Redeem)
	r.Post("/entries/:entryId/effects/:effect/retry", h.RetryEffect)
}
