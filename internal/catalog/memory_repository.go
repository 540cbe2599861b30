package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// MemoryRepository keeps the catalog in process. It also acts as the stock
// keeper of the in-memory ledger store.
type MemoryRepository struct {
	mu        sync.RWMutex
	materials map[string]decimal.Decimal
	rewards   map[string]Reward
}

// NewMemoryRepository builds an in-memory catalog preloaded with DefaultMaterials.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{
		materials: make(map[string]decimal.Decimal),
		rewards:   make(map[string]Reward),
	}
	for _, m := range DefaultMaterials() {
		r.materials[m.Kind] = m.Rate
	}
	return r
}

func (r *MemoryRepository) MaterialRate(_ context.Context, kind string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.materials[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownMaterial, kind)
	}
	return rate, nil
}

func (r *MemoryRepository) Materials(_ context.Context) ([]Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Material, 0, len(r.materials))
	for kind, rate := range r.materials {
		out = append(out, Material{Kind: kind, Rate: rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (r *MemoryRepository) Reward(_ context.Context, id string) (Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reward, ok := r.rewards[id]
	if !ok {
		return Reward{}, fmt.Errorf("%w: %q", ErrUnknownReward, id)
	}
	return reward, nil
}

// ListRewards returns the catalog ordered by cost ascending.
func (r *MemoryRepository) ListRewards(_ context.Context) ([]Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Reward, 0, len(r.rewards))
	for _, reward := range r.rewards {
		out = append(out, reward)
	}
	sortRewards(out)
	return out, nil
}

// Seed upserts materials and rewards. A reward already known keeps its current
// stock; the seed stock only applies to rewards inserted for the first time.
func (r *MemoryRepository) Seed(_ context.Context, seed Seed) error {
	if err := seed.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range seed.Materials {
		r.materials[m.Kind] = m.Rate
	}
	for _, reward := range seed.Rewards {
		if existing, ok := r.rewards[reward.ID]; ok {
			reward.Stock = existing.Stock
		}
		r.rewards[reward.ID] = reward
	}
	return nil
}

// Reserve takes one unit of the reward. It implements ledger.StockKeeper.
func (r *MemoryRepository) Reserve(rewardID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reward, ok := r.rewards[rewardID]
	if !ok {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ledger.ErrNotFound)
	}
	if reward.Stock <= 0 {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ledger.ErrOutOfStock)
	}
	reward.Stock--
	r.rewards[rewardID] = reward
	return reward.Stock, nil
}

// Release gives back a unit taken by Reserve when the surrounding write aborts.
func (r *MemoryRepository) Release(rewardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reward, ok := r.rewards[rewardID]; ok {
		reward.Stock++
		r.rewards[rewardID] = reward
	}
}

func sortRewards(rewards []Reward) {
	sort.SliceStable(rewards, func(i, j int) bool {
		if !rewards[i].Cost.Equal(rewards[j].Cost) {
			return rewards[i].Cost.LessThan(rewards[j].Cost)
		}
		return rewards[i].ID < rewards[j].ID
	})
}
