package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting is a request to record one balance mutation.
type Posting struct {
	WalletID  string
	Kind      Kind
	SeedDelta decimal.Decimal
	// StableDelta of a swap may be left zero, in which case it is derived from
	// the rate in effect at commit time. A non-zero value must match that rate.
	StableDelta decimal.Decimal
	Rate        decimal.Decimal
	Reference   string
	Quantity    int64
	SwapMode    SwapMode
	Location    string
	ClientTxID  string
	// RewardID is decremented by one unit inside the same atomic unit as the balance write.
	RewardID string
	Effects  []EffectKind
}

func (p Posting) validate() error {
	if strings.TrimSpace(p.WalletID) == "" {
		return Validationf("wallet id is required")
	}
	switch p.Kind {
	case KindDeposit:
		if !p.SeedDelta.IsPositive() {
			return Validationf("deposit seed delta must be positive")
		}
		if !p.StableDelta.IsZero() {
			return Validationf("deposit stable delta must be zero")
		}
		if p.Quantity < 1 {
			return Validationf("deposit quantity must be at least 1")
		}
	case KindSwap:
		if !p.SeedDelta.IsNegative() {
			return Validationf("swap seed delta must be negative")
		}
		if p.StableDelta.IsNegative() {
			return Validationf("swap stable delta must be positive")
		}
		if p.SwapMode != SwapManual && p.SwapMode != SwapAuto {
			return Validationf("unknown swap mode %q", p.SwapMode)
		}
	case KindRedemption:
		if !p.SeedDelta.IsNegative() {
			return Validationf("redemption seed delta must be negative")
		}
		if !p.StableDelta.IsZero() {
			return Validationf("redemption stable delta must be zero")
		}
	default:
		return Validationf("unknown entry kind %q", p.Kind)
	}
	return nil
}

// Writer validates postings and applies them to the store as a single atomic
// unit: balance update, stock decrement and history append.
type Writer struct {
	store Store
	rates RateSource
	now   func() time.Time
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithClock sets the function used to timestamp entries.
func WithClock(clock func() time.Time) WriterOption {
	return func(w *Writer) { w.now = clock }
}

// NewWriter builds a ledger writer over store using rates for swaps.
func NewWriter(store Store, rates RateSource, opts ...WriterOption) *Writer {
	w := &Writer{store: store, rates: rates, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record validates and commits the posting. On ErrDuplicateTransaction the
// previously committed entry is returned together with the error.
func (w *Writer) Record(ctx context.Context, p Posting) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	var entry, original Entry
	err := w.store.Apply(ctx, p.WalletID, func(tx Tx) error {
		if p.ClientTxID != "" {
			existing, found, err := tx.FindByClientTxID(p.Kind, p.ClientTxID)
			if err != nil {
				return err
			}
			if found {
				original = existing
				return ErrDuplicateTransaction
			}
		}

		stable := p.StableDelta
		rate := p.Rate
		if p.Kind == KindSwap {
			current, err := w.rates.SwapRate(ctx)
			if err != nil {
				return fmt.Errorf("swap rate: %w", err)
			}
			if !current.IsPositive() {
				return Validationf("swap rate must be positive")
			}
			computed := p.SeedDelta.Neg().Mul(current)
			if !stable.IsZero() && !stable.Equal(computed) {
				return Validationf("stable delta %s does not match %s at rate %s", stable, computed, current)
			}
			stable = computed
			rate = current
		}

		var deposits int64
		if p.Kind == KindDeposit {
			deposits = p.Quantity
		}
		if _, err := tx.ApplyDelta(Delta{Seed: p.SeedDelta, Stable: stable, Deposits: deposits}, nil); err != nil {
			return err
		}

		if p.Kind == KindRedemption && p.RewardID != "" {
			if _, err := tx.DecrementStock(p.RewardID); err != nil {
				return err
			}
		}

		now := w.now().UTC()
		entry = Entry{
			ID:          uuid.NewString(),
			WalletID:    p.WalletID,
			Kind:        p.Kind,
			SeedDelta:   p.SeedDelta,
			StableDelta: stable,
			Rate:        rate,
			Reference:   p.Reference,
			Quantity:    p.Quantity,
			SwapMode:    p.SwapMode,
			Location:    p.Location,
			ClientTxID:  p.ClientTxID,
			CreatedAt:   now,
		}
		for _, kind := range p.Effects {
			status := EffectNotAttempted
			if kind == EffectFulfillment {
				status = EffectPending
			}
			entry.Effects = append(entry.Effects, Effect{Kind: kind, Status: status, UpdatedAt: now})
		}
		return tx.Append(entry)
	})
	if err != nil {
		if !errors.Is(err, ErrDuplicateTransaction) {
			return Entry{}, err
		}
		if original.ID != "" {
			return original, err
		}
		// the backend rejected the append itself; entry was never committed
		return w.committedDuplicate(ctx, p)
	}
	return entry, nil
}

func (w *Writer) committedDuplicate(ctx context.Context, p Posting) (Entry, error) {
	var original Entry
	err := w.store.Apply(ctx, p.WalletID, func(tx Tx) error {
		existing, found, err := tx.FindByClientTxID(p.Kind, p.ClientTxID)
		if err != nil {
			return err
		}
		if found {
			original = existing
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return original, ErrDuplicateTransaction
}

// nextWallet computes the balances resulting from d and rejects any that would go negative.
func nextWallet(w Wallet, d Delta, now time.Time) (Wallet, error) {
	if d.Deposits < 0 {
		return Wallet{}, Validationf("deposit count cannot decrease")
	}
	next := w
	next.SeedBalance = w.SeedBalance.Add(d.Seed)
	next.StableBalance = w.StableBalance.Add(d.Stable)
	if d.Seed.IsPositive() {
		next.LifetimeEarned = w.LifetimeEarned.Add(d.Seed)
	}
	next.DepositCount = w.DepositCount + d.Deposits
	next.UpdatedAt = now.UTC()

	if next.SeedBalance.IsNegative() {
		return Wallet{}, &InsufficientBalanceError{Currency: CurrencySeed, Available: w.SeedBalance, Required: d.Seed.Neg()}
	}
	if next.StableBalance.IsNegative() {
		return Wallet{}, &InsufficientBalanceError{Currency: CurrencyStable, Available: w.StableBalance, Required: d.Stable.Neg()}
	}
	return next, nil
}
