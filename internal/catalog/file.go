package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Materials []struct {
		Kind string `yaml:"kind"`
		Rate string `yaml:"rate"`
	} `yaml:"materials"`
	Rewards []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Type        string `yaml:"type"`
		Cost        string `yaml:"cost"`
		Stock       int64  `yaml:"stock"`
	} `yaml:"rewards"`
}

// LoadFile reads a YAML catalog seed.
//
//	materials:
//	  - kind: Aluminio
//	    rate: "3.00"
//	rewards:
//	  - id: tree-nft
//	    name: Árbol NFT
//	    type: nft
//	    cost: "10"
//	    stock: 100
func LoadFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML catalog data.
func ParseSeed(data []byte) (Seed, error) {
	var raw seedFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Seed{}, fmt.Errorf("parse catalog: %w", err)
	}

	var seed Seed
	for _, m := range raw.Materials {
		rate, err := decimal.NewFromString(m.Rate)
		if err != nil {
			return Seed{}, fmt.Errorf("material %s rate: %w", m.Kind, err)
		}
		seed.Materials = append(seed.Materials, Material{Kind: m.Kind, Rate: rate})
	}
	for _, r := range raw.Rewards {
		cost, err := decimal.NewFromString(r.Cost)
		if err != nil {
			return Seed{}, fmt.Errorf("reward %s cost: %w", r.ID, err)
		}
		seed.Rewards = append(seed.Rewards, Reward{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Type:        RewardType(r.Type),
			Cost:        cost,
			Stock:       r.Stock,
		})
	}
	if err := seed.validate(); err != nil {
		return Seed{}, err
	}
	return seed, nil
}
