package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// View is the API representation of a wallet.
type View struct {
	ID             string          `json:"id"`
	Address        string          `json:"address"`
	SeedBalance    decimal.Decimal `json:"seed_balance"`
	StableBalance  decimal.Decimal `json:"stable_balance"`
	LifetimeEarned decimal.Decimal `json:"lifetime_earned"`
	DepositCount   int64           `json:"deposit_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EffectView is the API representation of an external effect.
type EffectView struct {
	Kind           string           `json:"kind"`
	Status         string           `json:"status"`
	TxRef          string           `json:"tx_ref,omitempty"`
	StableCredited *decimal.Decimal `json:"stable_credited,omitempty"`
	Error          string           `json:"error,omitempty"`
	Attempts       int              `json:"attempts"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// EntryView is the API representation of a ledger entry.
type EntryView struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Kind        string          `json:"kind"`
	SeedDelta   decimal.Decimal `json:"seed_delta"`
	StableDelta decimal.Decimal `json:"stable_delta"`
	Rate        decimal.Decimal `json:"rate"`
	Reference   string          `json:"reference,omitempty"`
	Quantity    int64           `json:"quantity,omitempty"`
	SwapMode    string          `json:"swap_mode,omitempty"`
	Location    string          `json:"location,omitempty"`
	ClientTxID  string          `json:"client_tx_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Effects     []EffectView    `json:"effects"`
}

// ToView converts a wallet for API responses.
func ToView(w ledger.Wallet) View {
	return View{
		ID:             w.ID,
		Address:        w.Address,
		SeedBalance:    w.SeedBalance,
		StableBalance:  w.StableBalance,
		LifetimeEarned: w.LifetimeEarned,
		DepositCount:   w.DepositCount,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// ToEffectView converts an effect for API responses.
func ToEffectView(e ledger.Effect) EffectView {
	v := EffectView{
		Kind:      string(e.Kind),
		Status:    string(e.Status),
		TxRef:     e.TxRef,
		Error:     e.Error,
		Attempts:  e.Attempts,
		UpdatedAt: e.UpdatedAt,
	}
	if !e.StableCredited.IsZero() {
		credited := e.StableCredited
		v.StableCredited = &credited
	}
	return v
}

// ToEntryView converts an entry for API responses.
func ToEntryView(e ledger.Entry) EntryView {
	v := EntryView{
		ID:          e.ID,
		WalletID:    e.WalletID,
		Kind:        string(e.Kind),
		SeedDelta:   e.SeedDelta,
		StableDelta: e.StableDelta,
		Rate:        e.Rate,
		Reference:   e.Reference,
		Quantity:    e.Quantity,
		SwapMode:    string(e.SwapMode),
		Location:    e.Location,
		ClientTxID:  e.ClientTxID,
		CreatedAt:   e.CreatedAt,
		Effects:     make([]EffectView, 0, len(e.Effects)),
	}
	for _, eff := range e.Effects {
		v.Effects = append(v.Effects, ToEffectView(eff))
	}
	return v
}

// ErrorResponse writes the HTTP status and body for a ledger error.
// Duplicates are not handled here; callers answer them with the original entry.
func ErrorResponse(c *fiber.Ctx, err error) error {
	var short *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error":     "insufficient_balance",
			"message":   err.Error(),
			"currency":  short.Currency,
			"available": short.Available,
			"required":  short.Required,
			"shortfall": short.Shortfall(),
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": "insufficient_balance", "message": err.Error()})
	case errors.Is(err, ledger.ErrOutOfStock):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": "out_of_stock", "message": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ledger.ErrValidation):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": err.Error()})
	case errors.Is(err, ledger.ErrStoreFailure):
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable", "message": "storage temporarily unavailable, retry the request"})
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
