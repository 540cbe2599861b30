package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the balances of a wallet held by the
// in-memory store. Lifetime earned is raised so the wallet stays consistent.
func SeedBalance(s Store, walletID string, seed, stable decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w, exists := mem.wallets[walletID]
		if !exists {
			return
		}
		w.SeedBalance = seed
		w.StableBalance = stable
		if w.LifetimeEarned.LessThan(seed) {
			w.LifetimeEarned = seed
		}
		mem.wallets[walletID] = w
	}
}
