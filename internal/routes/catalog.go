package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/catalog"
)

// RegisterCatalogRoutes wires material and reward listings.
func RegisterCatalogRoutes(r fiber.Router, h *catalog.Handler) {
	r.Get("/materials", h.Materials)
	r.Get("/rewards", h.Rewards)
}
