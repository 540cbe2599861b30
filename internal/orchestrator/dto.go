package orchestrator

import (
	"github.com/shopspring/decimal"

	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// DepositRequest is the body of a material deposit.
type DepositRequest struct {
	Material   string `json:"material"`
	Quantity   int64  `json:"quantity"`
	Location   string `json:"location"`
	ClientTxID string `json:"client_tx_id"`
}

// SwapRequest is the body of a seed to stable swap.
type SwapRequest struct {
	SeedAmount decimal.Decimal `json:"seed_amount"`
	Mode       string          `json:"mode"`
	ClientTxID string          `json:"client_tx_id"`
}

// RedeemRequest is the body of a reward redemption.
type RedeemRequest struct {
	RewardID   string `json:"reward_id"`
	ClientTxID string `json:"client_tx_id"`
}

// EffectResponse reports one external effect outcome.
type EffectResponse struct {
	Kind           string           `json:"kind"`
	Status         string           `json:"status"`
	TxRef          string           `json:"tx_ref,omitempty"`
	StableCredited *decimal.Decimal `json:"stable_credited,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// DepositResponse composes the committed entry with each effect outcome.
// Degraded is set when the credit committed but an effect failed.
type DepositResponse struct {
	Entry    wallet.EntryView `json:"entry"`
	Transfer EffectResponse   `json:"transfer"`
	AutoSwap EffectResponse   `json:"auto_swap"`
	Degraded bool             `json:"degraded"`
}

func toEffectResponse(r EffectResult) EffectResponse {
	out := EffectResponse{Kind: string(r.Kind), Status: string(r.Status), TxRef: r.TxRef, Error: r.Error}
	if !r.StableCredited.IsZero() {
		credited := r.StableCredited
		out.StableCredited = &credited
	}
	return out
}

func toDepositResponse(r DepositResult) DepositResponse {
	return DepositResponse{
		Entry:    wallet.ToEntryView(r.Entry),
		Transfer: toEffectResponse(r.Transfer),
		AutoSwap: toEffectResponse(r.AutoSwap),
		Degraded: r.Degraded(),
	}
}
