package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a wallet, entry or referenced catalog item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a malformed operation rejected before any store write.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientBalance occurs when a posting would drive a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOutOfStock indicates the redeemed reward has no remaining units.
	ErrOutOfStock = errors.New("out of stock")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists for the wallet and operation kind. The original entry is
	// returned alongside it.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrStoreFailure wraps backend errors. The whole operation failed and is safe to retry.
	ErrStoreFailure = errors.New("store failure")
)

// InsufficientBalanceError reports how much a wallet is missing to cover a posting.
type InsufficientBalanceError struct {
	Currency  string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, required %s", e.Currency, e.Available, e.Required)
}

// Shortfall is the amount the wallet would need in addition to its balance.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Validationf builds an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreFailure, op, err)
}

// Guard is evaluated inside the atomic unit with the locked wallet and the
// balances that would result from the delta. Returning an error aborts the unit.
type Guard func(current, next Wallet) error

// Delta is a balance mutation applied by Tx.ApplyDelta. Positive seed deltas
// also raise the lifetime earned counter.
type Delta struct {
	Seed     decimal.Decimal
	Stable   decimal.Decimal
	Deposits int64
}

// Tx is the atomic unit handed to Store.Apply. Every mutation made through it
// is committed together or not at all, and the wallet stays locked for its lifetime.
type Tx interface {
	Wallet() Wallet
	ApplyDelta(delta Delta, guard Guard) (Wallet, error)
	Append(entry Entry) error
	FindByClientTxID(kind Kind, clientTxID string) (Entry, bool, error)
	DecrementStock(rewardID string) (int64, error)
}

// Store is the durable balance store and entry history backing the writer.
type Store interface {
	// CreateWallet returns the wallet registered for address, creating it when absent.
	CreateWallet(ctx context.Context, address string) (Wallet, bool, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletByAddress(ctx context.Context, address string) (Wallet, error)
	// Apply runs fn as one atomic unit serialized per wallet.
	Apply(ctx context.Context, walletID string, fn func(tx Tx) error) error
	Entry(ctx context.Context, id string) (Entry, error)
	// Entries lists the wallet history newest first. A limit <= 0 returns everything.
	Entries(ctx context.Context, walletID string, limit int) ([]Entry, error)
	// SetEffect patches the status of one external effect of a committed entry.
	SetEffect(ctx context.Context, entryID string, effect Effect) (Entry, error)
	// StaleEffects lists deposit entries created before the cutoff that still
	// carry an effect in status not_attempted, oldest first.
	StaleEffects(ctx context.Context, before time.Time, limit int) ([]Entry, error)
}

// StockKeeper reserves reward units for the in-memory store. Reserve must be
// atomic and fail with ErrOutOfStock once the stock is exhausted.
type StockKeeper interface {
	Reserve(rewardID string) (int64, error)
	Release(rewardID string)
}

// RateSource provides the seed to stable exchange rate in effect right now.
type RateSource interface {
	SwapRate(ctx context.Context) (decimal.Decimal, error)
}

// FixedRate is a RateSource returning a constant rate.
type FixedRate decimal.Decimal

// SwapRate implements RateSource.
func (r FixedRate) SwapRate(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(r), nil
}
