package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEffectFailed marks a failed or timed-out call to an on-chain service.
var ErrEffectFailed = errors.New("external effect failed")

// TransferReceipt identifies a submitted seed token transfer.
type TransferReceipt struct {
	TxRef string `json:"tx_ref"`
}

// SwapReceipt describes a completed seed to stable conversion.
type SwapReceipt struct {
	StableCredited decimal.Decimal `json:"stable_credited"`
	TxRef          string          `json:"tx_ref"`
}

// Transferer sends seed tokens to a user's on-chain address.
type Transferer interface {
	Send(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error)
}

// Swapper converts seed credit held at an address into the stable currency.
type Swapper interface {
	Convert(ctx context.Context, walletAddress string, seedAmount decimal.Decimal) (SwapReceipt, error)
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error)

func (f TransferFunc) Send(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error) {
	return f(ctx, toAddress, amount)
}

// SwapFunc adapts a function to Swapper.
type SwapFunc func(ctx context.Context, walletAddress string, seedAmount decimal.Decimal) (SwapReceipt, error)

func (f SwapFunc) Convert(ctx context.Context, walletAddress string, seedAmount decimal.Decimal) (SwapReceipt, error) {
	return f(ctx, walletAddress, seedAmount)
}
