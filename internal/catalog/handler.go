package catalog

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// Handler exposes read-only catalog endpoints.
type Handler struct {
	materials MaterialRates
	rewards   Rewards
}

// NewHandler builds a catalog HTTP handler.
func NewHandler(materials MaterialRates, rewards Rewards) *Handler {
	return &Handler{materials: materials, rewards: rewards}
}

// Materials lists accepted material kinds with their seed rate per unit.
func (h *Handler) Materials(c *fiber.Ctx) error {
	items, err := h.materials.Materials(c.UserContext())
	if err != nil {
		return wallet.ErrorResponse(c, err)
	}
	if items == nil {
		items = []Material{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"materials": items})
}

// Rewards lists redeemable rewards with current stock.
func (h *Handler) Rewards(c *fiber.Ctx) error {
	items, err := h.rewards.ListRewards(c.UserContext())
	if err != nil {
		return wallet.ErrorResponse(c, err)
	}
	if items == nil {
		items = []Reward{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"rewards": items})
}
