package chain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StaticTransferer simulates a successful transfer with a synthetic reference.
type StaticTransferer struct{}

func (StaticTransferer) Send(_ context.Context, _ string, _ decimal.Decimal) (TransferReceipt, error) {
	return TransferReceipt{TxRef: "static-" + uuid.NewString()}, nil
}

// StaticSwapper simulates a swap service converting at a fixed rate.
type StaticSwapper struct {
	Rate decimal.Decimal
}

func (s StaticSwapper) Convert(_ context.Context, _ string, seedAmount decimal.Decimal) (SwapReceipt, error) {
	return SwapReceipt{StableCredited: seedAmount.Mul(s.Rate), TxRef: "static-" + uuid.NewString()}, nil
}
