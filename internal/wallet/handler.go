package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance returns the wallet balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.service.Balance(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToView(w))
}

// History returns the wallet entries newest first. Without ?limit= the whole
// history is returned.
func (h *Handler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	entries, err := h.service.History(c.UserContext(), c.Params("walletId"), limit)
	if err != nil {
		return ErrorResponse(c, err)
	}
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToEntryView(e))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet_id": c.Params("walletId"), "entries": out})
}

// Entry returns one entry with its effect statuses.
func (h *Handler) Entry(c *fiber.Ctx) error {
	e, err := h.service.Entry(c.UserContext(), c.Params("entryId"))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToEntryView(e))
}
