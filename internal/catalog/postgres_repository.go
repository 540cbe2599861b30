package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// PostgresRepository reads the catalog from the materials and rewards tables.
// Reward stock in the same database is decremented by the ledger store.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed catalog repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) MaterialRate(ctx context.Context, kind string) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT rate::text FROM materials WHERE kind = $1`, kind).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownMaterial, kind)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: material rate: %v", ledger.ErrStoreFailure, err)
	}
	return decimal.NewFromString(raw)
}

func (r *PostgresRepository) Materials(ctx context.Context) ([]Material, error) {
	rows, err := r.db.Query(ctx, `SELECT kind, rate::text FROM materials ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("%w: list materials: %v", ledger.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var (
			m   Material
			raw string
		)
		if err := rows.Scan(&m.Kind, &raw); err != nil {
			return nil, err
		}
		if m.Rate, err = decimal.NewFromString(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const rewardColumns = `id, name, description, type, cost::text, stock`

func (r *PostgresRepository) Reward(ctx context.Context, id string) (Reward, error) {
	reward, err := scanReward(r.db.QueryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reward{}, fmt.Errorf("%w: %q", ErrUnknownReward, id)
	}
	if err != nil {
		return Reward{}, fmt.Errorf("%w: reward: %v", ledger.ErrStoreFailure, err)
	}
	return reward, nil
}

// ListRewards returns the catalog ordered by cost ascending.
func (r *PostgresRepository) ListRewards(ctx context.Context) ([]Reward, error) {
	rows, err := r.db.Query(ctx, `SELECT `+rewardColumns+` FROM rewards ORDER BY cost ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list rewards: %v", ledger.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []Reward
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reward)
	}
	return out, rows.Err()
}

// Seed upserts the reference data in one transaction. Stock is only written
// for rewards that do not exist yet, so reseeding never returns redeemed units.
func (r *PostgresRepository) Seed(ctx context.Context, seed Seed) error {
	if err := seed.validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin seed: %v", ledger.ErrStoreFailure, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, m := range seed.Materials {
		if _, err := tx.Exec(ctx, `INSERT INTO materials (kind, rate) VALUES ($1, $2::numeric)
            ON CONFLICT (kind) DO UPDATE SET rate = EXCLUDED.rate`, m.Kind, m.Rate.String()); err != nil {
			return fmt.Errorf("%w: seed material %s: %v", ledger.ErrStoreFailure, m.Kind, err)
		}
	}
	for _, rw := range seed.Rewards {
		if _, err := tx.Exec(ctx, `INSERT INTO rewards (id, name, description, type, cost, stock)
            VALUES ($1, $2, $3, $4, $5::numeric, $6)
            ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
                type = EXCLUDED.type, cost = EXCLUDED.cost`,
			rw.ID, rw.Name, rw.Description, string(rw.Type), rw.Cost.String(), rw.Stock); err != nil {
			return fmt.Errorf("%w: seed reward %s: %v", ledger.ErrStoreFailure, rw.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit seed: %v", ledger.ErrStoreFailure, err)
	}
	return nil
}

func scanReward(row pgx.Row) (Reward, error) {
	var (
		reward Reward
		kind   string
		cost   string
	)
	if err := row.Scan(&reward.ID, &reward.Name, &reward.Description, &kind, &cost, &reward.Stock); err != nil {
		return Reward{}, err
	}
	cst, err := decimal.NewFromString(cost)
	if err != nil {
		return Reward{}, err
	}
	reward.Type = RewardType(kind)
	reward.Cost = cst
	return reward, nil
}
