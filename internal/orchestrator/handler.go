package orchestrator

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// Handler exposes the deposit, swap and redemption workflows over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs an orchestrator handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Deposit credits a material deposit. A degraded success still answers 201.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		WalletID:   c.Params("walletId"),
		Material:   req.Material,
		Quantity:   req.Quantity,
		Location:   req.Location,
		ClientTxID: req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(toDepositResponse(result))
		}
		return wallet.ErrorResponse(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toDepositResponse(result))
}

// Swap converts seed credit to the stable currency.
func (h *Handler) Swap(c *fiber.Ctx) error {
	var req SwapRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	mode := ledger.SwapMode(req.Mode)
	entry, err := h.service.Swap(c.UserContext(), SwapInput{
		WalletID:   c.Params("walletId"),
		SeedAmount: req.SeedAmount,
		Mode:       mode,
		ClientTxID: req.ClientTxID,
	})
	return respondEntry(c, entry, err)
}

// Redeem spends seed credit on a catalog reward.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.service.Redeem(c.UserContext(), RedeemInput{
		WalletID:   c.Params("walletId"),
		RewardID:   req.RewardID,
		ClientTxID: req.ClientTxID,
	})
	return respondEntry(c, entry, err)
}

// RetryEffect re-attempts one external effect of a committed deposit.
func (h *Handler) RetryEffect(c *fiber.Ctx) error {
	result, err := h.service.RetryEffect(c.UserContext(), c.Params("entryId"), ledger.EffectKind(c.Params("effect")))
	if err != nil {
		return wallet.ErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(toEffectResponse(result))
}

func respondEntry(c *fiber.Ctx, entry ledger.Entry, err error) error {
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(wallet.ToEntryView(entry))
		}
		return wallet.ErrorResponse(c, err)
	}
	return c.Status(http.StatusCreated).JSON(wallet.ToEntryView(entry))
}
