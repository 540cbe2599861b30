package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type connectRequest struct {
	Address string `json:"address"`
}

// Connect resolves a wallet address, registering it if unseen.
func (h *Handler) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, created, err := h.service.Resolve(c.UserContext(), req.Address)
	if err != nil {
		return wallet.ErrorResponse(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(wallet.ToView(w))
}

// Create registers a wallet under a generated address.
func (h *Handler) Create(c *fiber.Ctx) error {
	w, err := h.service.Create(c.UserContext())
	if err != nil {
		return wallet.ErrorResponse(c, err)
	}
	return c.Status(http.StatusCreated).JSON(wallet.ToView(w))
}
