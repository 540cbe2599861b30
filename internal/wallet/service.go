package wallet

import (
	"context"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// Service is the read side of the ledger: balances and history.
type Service struct {
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Balance returns the wallet with its current balances and lifetime counters.
func (s *Service) Balance(ctx context.Context, walletID string) (ledger.Wallet, error) {
	return s.store.Wallet(ctx, walletID)
}

// History lists entries newest first. A non-positive limit returns the whole history.
func (s *Service) History(ctx context.Context, walletID string, limit int) ([]ledger.Entry, error) {
	if limit < 0 {
		limit = 0
	}
	return s.store.Entries(ctx, walletID, limit)
}

// Entry returns one entry with its current effect statuses.
func (s *Service) Entry(ctx context.Context, entryID string) (ledger.Entry, error) {
	return s.store.Entry(ctx, entryID)
}
