package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]Wallet
	byAddress map[string]string
	entries   map[string]Entry
	history   map[string][]string
	clientTx  map[string]string

	// per-wallet locks serialize Apply on one wallet without blocking others
	locks sync.Map

	stock StockKeeper
	now   func() time.Time
}

// InMemoryOption customises the in-memory store.
type InMemoryOption func(*inMemoryStore)

// WithStockKeeper lets redemptions reserve reward stock inside the atomic unit.
func WithStockKeeper(keeper StockKeeper) InMemoryOption {
	return func(s *inMemoryStore) { s.stock = keeper }
}

// NewInMemory creates a concurrency-safe in-memory store useful for tests and development.
func NewInMemory(opts ...InMemoryOption) Store {
	s := &inMemoryStore{
		wallets:   make(map[string]Wallet),
		byAddress: make(map[string]string),
		entries:   make(map[string]Entry),
		history:   make(map[string][]string),
		clientTx:  make(map[string]string),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func clientTxKey(walletID string, kind Kind, clientTxID string) string {
	return walletID + "|" + string(kind) + "|" + clientTxID
}

func (s *inMemoryStore) walletLock(id string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *inMemoryStore) CreateWallet(_ context.Context, address string) (Wallet, bool, error) {
	if address == "" {
		return Wallet{}, false, Validationf("wallet address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.byAddress[address]; exists {
		return s.wallets[id], false, nil
	}
	now := s.now().UTC()
	w := Wallet{
		ID:             uuid.NewString(),
		Address:        address,
		SeedBalance:    decimal.Zero,
		StableBalance:  decimal.Zero,
		LifetimeEarned: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.wallets[w.ID] = w
	s.byAddress[address] = w.ID
	return w, true, nil
}

func (s *inMemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *inMemoryStore) WalletByAddress(_ context.Context, address string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAddress[address]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", address, ErrNotFound)
	}
	return s.wallets[id], nil
}

func (s *inMemoryStore) Apply(ctx context.Context, walletID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	w, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}

	tx := &memTx{store: s, wallet: w}
	if err := fn(tx); err != nil {
		for _, rewardID := range tx.reserved {
			s.stock.Release(rewardID)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.dirty {
		s.wallets[walletID] = tx.wallet
	}
	for _, e := range tx.appended {
		s.entries[e.ID] = e
		s.history[walletID] = append(s.history[walletID], e.ID)
		if e.ClientTxID != "" {
			s.clientTx[clientTxKey(walletID, e.Kind, e.ClientTxID)] = e.ID
		}
	}
	return nil
}

func (s *inMemoryStore) Entry(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return e.clone(), nil
}

func (s *inMemoryStore) Entries(_ context.Context, walletID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.wallets[walletID]; !ok {
		return nil, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	ids := s.history[walletID]
	out := make([]Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.entries[ids[i]].clone())
	}
	return out, nil
}

func (s *inMemoryStore) SetEffect(_ context.Context, entryID string, effect Effect) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return Entry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	e = e.clone()
	if effect.UpdatedAt.IsZero() {
		effect.UpdatedAt = s.now().UTC()
	}
	if !e.setEffect(effect) {
		e.Effects = append(e.Effects, effect)
	}
	s.entries[entryID] = e
	return e.clone(), nil
}

func (s *inMemoryStore) StaleEffects(_ context.Context, before time.Time, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Kind != KindDeposit || !e.CreatedAt.Before(before) {
			continue
		}
		for _, eff := range e.Effects {
			if eff.Status == EffectNotAttempted {
				out = append(out, e.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	store    *inMemoryStore
	wallet   Wallet
	dirty    bool
	appended []Entry
	reserved []string
}

func (t *memTx) Wallet() Wallet { return t.wallet }

func (t *memTx) ApplyDelta(d Delta, guard Guard) (Wallet, error) {
	next, err := nextWallet(t.wallet, d, t.store.now())
	if err != nil {
		return Wallet{}, err
	}
	if guard != nil {
		if err := guard(t.wallet, next); err != nil {
			return Wallet{}, err
		}
	}
	t.wallet = next
	t.dirty = true
	return next, nil
}

func (t *memTx) Append(e Entry) error {
	if e.WalletID != t.wallet.ID {
		return Validationf("entry wallet %s does not match locked wallet %s", e.WalletID, t.wallet.ID)
	}
	t.appended = append(t.appended, e.clone())
	return nil
}

func (t *memTx) FindByClientTxID(kind Kind, clientTxID string) (Entry, bool, error) {
	for _, e := range t.appended {
		if e.Kind == kind && e.ClientTxID == clientTxID {
			return e.clone(), true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.clientTx[clientTxKey(t.wallet.ID, kind, clientTxID)]
	if !ok {
		return Entry{}, false, nil
	}
	return t.store.entries[id].clone(), true, nil
}

func (t *memTx) DecrementStock(rewardID string) (int64, error) {
	if t.store.stock == nil {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ErrNotFound)
	}
	remaining, err := t.store.stock.Reserve(rewardID)
	if err != nil {
		return 0, err
	}
	t.reserved = append(t.reserved, rewardID)
	return remaining, nil
}
