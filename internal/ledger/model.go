package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the operation that produced an entry.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindSwap       Kind = "swap"
	KindRedemption Kind = "redemption"
)

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindSwap, KindRedemption:
		return true
	}
	return false
}

// SwapMode records whether a swap was requested by the user or triggered by a deposit.
type SwapMode string

const (
	SwapManual SwapMode = "manual"
	SwapAuto   SwapMode = "auto"
)

// EffectKind names an external follow-up attached to an entry.
type EffectKind string

const (
	EffectTransfer    EffectKind = "transfer"
	EffectAutoSwap    EffectKind = "auto_swap"
	EffectFulfillment EffectKind = "fulfillment"
)

// EffectStatus is the outcome of an external effect.
type EffectStatus string

const (
	EffectNotAttempted EffectStatus = "not_attempted"
	EffectSucceeded    EffectStatus = "succeeded"
	EffectFailed       EffectStatus = "failed"
	// EffectPending marks work handed to a collaborator outside this service,
	// such as reward delivery.
	EffectPending EffectStatus = "pending"
)

const (
	CurrencySeed   = "GSEED"
	CurrencyStable = "PYUSD"
)

// Wallet holds the current balances and lifetime counters of one address.
type Wallet struct {
	ID             string
	Address        string
	SeedBalance    decimal.Decimal
	StableBalance  decimal.Decimal
	LifetimeEarned decimal.Decimal
	DepositCount   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Effect is the separately patchable outcome of an external call. The
// financial fields of the owning entry never change.
type Effect struct {
	Kind           EffectKind
	Status         EffectStatus
	TxRef          string
	StableCredited decimal.Decimal
	Error          string
	Attempts       int
	UpdatedAt      time.Time
}

// Entry is one committed balance mutation.
type Entry struct {
	ID          string
	WalletID    string
	Kind        Kind
	SeedDelta   decimal.Decimal
	StableDelta decimal.Decimal
	// Rate is the material rate for deposits and the exchange rate for swaps.
	Rate decimal.Decimal
	// Reference is the material kind for deposits and the reward id for redemptions.
	Reference  string
	Quantity   int64
	SwapMode   SwapMode
	Location   string
	ClientTxID string
	CreatedAt  time.Time
	Effects    []Effect
}

// Effect returns the effect of the given kind, if the entry carries one.
func (e Entry) Effect(kind EffectKind) (Effect, bool) {
	for _, eff := range e.Effects {
		if eff.Kind == kind {
			return eff, true
		}
	}
	return Effect{}, false
}

func (e Entry) clone() Entry {
	if e.Effects != nil {
		e.Effects = append([]Effect(nil), e.Effects...)
	}
	return e
}

func (e *Entry) setEffect(effect Effect) bool {
	for i := range e.Effects {
		if e.Effects[i].Kind == effect.Kind {
			e.Effects[i] = effect
			return true
		}
	}
	return false
}
