package identity

import (
	"context"
	"log/slog"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// Service maps raw wallet addresses to ledger wallets, creating them on first contact.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewService creates a new identity service.
func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Resolve returns the wallet for rawAddress. created reports whether it was
// registered by this call.
func (s *Service) Resolve(ctx context.Context, rawAddress string) (w ledger.Wallet, created bool, err error) {
	addr, err := Normalize(rawAddress)
	if err != nil {
		return ledger.Wallet{}, false, err
	}
	w, created, err = s.store.CreateWallet(ctx, addr)
	if err != nil {
		return ledger.Wallet{}, false, err
	}
	if created {
		s.logger.Info("wallet registered", slog.String("wallet_id", w.ID), slog.String("address", w.Address))
	}
	return w, created, nil
}

// Create registers a wallet under a freshly generated address.
func (s *Service) Create(ctx context.Context) (ledger.Wallet, error) {
	addr, err := Generate()
	if err != nil {
		return ledger.Wallet{}, err
	}
	w, _, err := s.Resolve(ctx, addr)
	return w, err
}
