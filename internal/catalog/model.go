package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

var (
	// ErrUnknownMaterial is returned for a material kind without a rate.
	ErrUnknownMaterial = fmt.Errorf("%w: unknown material", ledger.ErrValidation)
	// ErrUnknownReward is returned for a reward id absent from the catalog.
	ErrUnknownReward = fmt.Errorf("%w: unknown reward", ledger.ErrValidation)
)

// RewardType distinguishes digital from physical rewards.
type RewardType string

const (
	RewardNFT      RewardType = "nft"
	RewardPhysical RewardType = "physical"
)

// Material is a recyclable kind and the seed credit earned per unit.
type Material struct {
	Kind string          `json:"kind"`
	Rate decimal.Decimal `json:"rate"`
}

// Reward is a redeemable catalog item.
type Reward struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        RewardType      `json:"type"`
	Cost        decimal.Decimal `json:"cost"`
	Stock       int64           `json:"stock"`
}

// Seed is the reference data loaded into a repository at startup.
type Seed struct {
	Materials []Material
	Rewards   []Reward
}

// MaterialRates resolves material kinds to seed credit per unit.
type MaterialRates interface {
	MaterialRate(ctx context.Context, kind string) (decimal.Decimal, error)
	Materials(ctx context.Context) ([]Material, error)
}

// Rewards exposes the reward catalog with its live stock.
type Rewards interface {
	Reward(ctx context.Context, id string) (Reward, error)
	ListRewards(ctx context.Context) ([]Reward, error)
}

// Repository is a writable catalog backend.
type Repository interface {
	MaterialRates
	Rewards
	Seed(ctx context.Context, seed Seed) error
}

// DefaultMaterials is the material table used when no catalog file is configured.
func DefaultMaterials() []Material {
	return []Material{
		{Kind: "Plástico PET", Rate: decimal.RequireFromString("2.00")},
		{Kind: "Plástico HDPE", Rate: decimal.RequireFromString("1.80")},
		{Kind: "Vidrio", Rate: decimal.RequireFromString("1.50")},
		{Kind: "Aluminio", Rate: decimal.RequireFromString("3.00")},
		{Kind: "Cartón", Rate: decimal.RequireFromString("1.00")},
		{Kind: "Papel", Rate: decimal.RequireFromString("0.80")},
		{Kind: "Acero", Rate: decimal.RequireFromString("2.50")},
		{Kind: "Tetra Pak", Rate: decimal.RequireFromString("1.20")},
	}
}

func (s Seed) validate() error {
	for _, m := range s.Materials {
		if m.Kind == "" {
			return ledger.Validationf("material kind is required")
		}
		if !m.Rate.IsPositive() {
			return ledger.Validationf("material %s rate must be positive", m.Kind)
		}
	}
	for _, r := range s.Rewards {
		if r.ID == "" {
			return ledger.Validationf("reward id is required")
		}
		if r.Type != RewardNFT && r.Type != RewardPhysical {
			return ledger.Validationf("reward %s has unknown type %q", r.ID, r.Type)
		}
		if !r.Cost.IsPositive() {
			return ledger.Validationf("reward %s cost must be positive", r.ID)
		}
		if r.Stock < 0 {
			return ledger.Validationf("reward %s stock cannot be negative", r.ID)
		}
	}
	return nil
}
