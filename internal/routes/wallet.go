package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/identity"
	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// RegisterWalletRoutes wires wallet registration and read endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, ids *identity.Handler) {
	r.Post("/wallets", ids.Create)
	r.Post("/wallets/connect", ids.Connect)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/history", h.History)
	r.Get("/entries/:entryId", h.Entry)
}
