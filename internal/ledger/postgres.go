package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	walletColumns = `id::text, address, seed_balance::text, stable_balance::text,
        lifetime_earned::text, deposit_count, created_at, updated_at`
	entryColumns = `id::text, wallet_id::text, kind, seed_delta::text, stable_delta::text, rate::text,
        reference, quantity, swap_mode, location, client_tx_id, created_at`
	effectColumns = `entry_id::text, kind, status, tx_ref, stable_credited::text, error, attempts, updated_at`

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists wallets and ledger entries in PostgreSQL. Apply locks
// the wallet row with SELECT ... FOR UPDATE so writes to one wallet serialize
// while other wallets proceed independently.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateWallet inserts the wallet unless the address is already registered.
func (s *PostgresStore) CreateWallet(ctx context.Context, address string) (Wallet, bool, error) {
	if address == "" {
		return Wallet{}, false, Validationf("wallet address is required")
	}
	now := s.now().UTC()
	w, err := scanWallet(s.db.QueryRow(ctx, `INSERT INTO wallets (id, address, created_at, updated_at)
        VALUES ($1, $2, $3, $3)
        ON CONFLICT (address) DO NOTHING
        RETURNING `+walletColumns, uuid.New(), address, now))
	if err == nil {
		return w, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, false, storeFailure("create wallet", err)
	}
	w, err = s.WalletByAddress(ctx, address)
	if err != nil {
		return Wallet{}, false, err
	}
	return w, false, nil
}

// Wallet fetches a wallet by identifier.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
		}
		return Wallet{}, storeFailure("get wallet", err)
	}
	return w, nil
}

// WalletByAddress fetches a wallet by its on-chain address.
func (s *PostgresStore) WalletByAddress(ctx context.Context, address string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet %s: %w", address, ErrNotFound)
		}
		return Wallet{}, storeFailure("get wallet by address", err)
	}
	return w, nil
}

// Apply runs fn inside a database transaction holding the wallet row lock.
func (s *PostgresStore) Apply(ctx context.Context, walletID string, fn func(tx Tx) error) error {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeFailure("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
		}
		return storeFailure("lock wallet", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, wallet: w, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeFailure("commit", err)
	}
	return nil
}

// Entry fetches a single entry with its effects.
func (s *PostgresStore) Entry(ctx context.Context, id string) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return Entry{}, storeFailure("get entry", err)
	}
	entries := []Entry{e}
	if err := loadEffects(ctx, s.db, entries); err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// Entries lists the wallet history newest first.
func (s *PostgresStore) Entries(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	if _, err := s.Wallet(ctx, walletID); err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1
        ORDER BY seq DESC
        LIMIT NULLIF($2::int, 0)`, walletID, limit)
	if err != nil {
		return nil, storeFailure("list entries", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if err := loadEffects(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SetEffect upserts the effect row of a committed entry. Entry deltas are untouched.
func (s *PostgresStore) SetEffect(ctx context.Context, entryID string, effect Effect) (Entry, error) {
	id, err := uuid.Parse(entryID)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if effect.UpdatedAt.IsZero() {
		effect.UpdatedAt = s.now().UTC()
	}
	_, err = s.db.Exec(ctx, `INSERT INTO ledger_entry_effects
        (entry_id, kind, status, tx_ref, stable_credited, error, attempts, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
        ON CONFLICT (entry_id, kind) DO UPDATE SET
            status = EXCLUDED.status,
            tx_ref = EXCLUDED.tx_ref,
            stable_credited = EXCLUDED.stable_credited,
            error = EXCLUDED.error,
            attempts = EXCLUDED.attempts,
            updated_at = EXCLUDED.updated_at`,
		id, string(effect.Kind), string(effect.Status), effect.TxRef, effect.StableCredited.String(),
		effect.Error, effect.Attempts, effect.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Entry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
		}
		return Entry{}, storeFailure("set effect", err)
	}
	return s.Entry(ctx, entryID)
}

// StaleEffects lists deposits older than before with an effect never attempted.
func (s *PostgresStore) StaleEffects(ctx context.Context, before time.Time, limit int) ([]Entry, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries e
        WHERE e.kind = $1 AND e.created_at < $2
          AND EXISTS (
              SELECT 1 FROM ledger_entry_effects f
              WHERE f.entry_id = e.id AND f.status = $3)
        ORDER BY e.seq
        LIMIT NULLIF($4::int, 0)`, string(KindDeposit), before.UTC(), string(EffectNotAttempted), limit)
	if err != nil {
		return nil, storeFailure("list stale effects", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if err := loadEffects(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	wallet Wallet
	now    func() time.Time
}

func (t *pgTx) Wallet() Wallet { return t.wallet }

func (t *pgTx) ApplyDelta(d Delta, guard Guard) (Wallet, error) {
	next, err := nextWallet(t.wallet, d, t.now())
	if err != nil {
		return Wallet{}, err
	}
	if guard != nil {
		if err := guard(t.wallet, next); err != nil {
			return Wallet{}, err
		}
	}
	_, err = t.tx.Exec(t.ctx, `UPDATE wallets SET
            seed_balance = $2::numeric,
            stable_balance = $3::numeric,
            lifetime_earned = $4::numeric,
            deposit_count = $5,
            updated_at = $6
        WHERE id = $1`,
		next.ID, next.SeedBalance.String(), next.StableBalance.String(), next.LifetimeEarned.String(),
		next.DepositCount, next.UpdatedAt)
	if err != nil {
		return Wallet{}, storeFailure("update wallet", err)
	}
	t.wallet = next
	return next, nil
}

func (t *pgTx) Append(e Entry) error {
	if e.WalletID != t.wallet.ID {
		return Validationf("entry wallet %s does not match locked wallet %s", e.WalletID, t.wallet.ID)
	}
	_, err := t.tx.Exec(t.ctx, `INSERT INTO ledger_entries
        (id, wallet_id, kind, seed_delta, stable_delta, rate, reference, quantity, swap_mode, location, client_tx_id, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.WalletID, string(e.Kind), e.SeedDelta.String(), e.StableDelta.String(), e.Rate.String(),
		e.Reference, e.Quantity, string(e.SwapMode), e.Location, e.ClientTxID, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateTransaction
		}
		return storeFailure("append entry", err)
	}
	for _, eff := range e.Effects {
		_, err := t.tx.Exec(t.ctx, `INSERT INTO ledger_entry_effects
            (entry_id, kind, status, tx_ref, stable_credited, error, attempts, updated_at)
            VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
			e.ID, string(eff.Kind), string(eff.Status), eff.TxRef, eff.StableCredited.String(),
			eff.Error, eff.Attempts, eff.UpdatedAt)
		if err != nil {
			return storeFailure("append effect", err)
		}
	}
	return nil
}

func (t *pgTx) FindByClientTxID(kind Kind, clientTxID string) (Entry, bool, error) {
	e, err := scanEntry(t.tx.QueryRow(t.ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 AND kind = $2 AND client_tx_id = $3`, t.wallet.ID, string(kind), clientTxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, storeFailure("find client tx", err)
	}
	entries := []Entry{e}
	if err := loadEffects(t.ctx, t.tx, entries); err != nil {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

func (t *pgTx) DecrementStock(rewardID string) (int64, error) {
	var remaining int64
	err := t.tx.QueryRow(t.ctx, `UPDATE rewards SET stock = stock - 1
        WHERE id = $1 AND stock > 0
        RETURNING stock`, rewardID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, storeFailure("decrement stock", err)
	}
	var exists bool
	if err := t.tx.QueryRow(t.ctx, `SELECT EXISTS (SELECT 1 FROM rewards WHERE id = $1)`, rewardID).Scan(&exists); err != nil {
		return 0, storeFailure("check reward", err)
	}
	if !exists {
		return 0, fmt.Errorf("reward %s: %w", rewardID, ErrNotFound)
	}
	return 0, fmt.Errorf("reward %s: %w", rewardID, ErrOutOfStock)
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w                      Wallet
		seed, stable, lifetime string
	)
	if err := row.Scan(&w.ID, &w.Address, &seed, &stable, &lifetime, &w.DepositCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	var err error
	if w.SeedBalance, err = decimal.NewFromString(seed); err != nil {
		return Wallet{}, err
	}
	if w.StableBalance, err = decimal.NewFromString(stable); err != nil {
		return Wallet{}, err
	}
	if w.LifetimeEarned, err = decimal.NewFromString(lifetime); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                  Entry
		kind, mode         string
		seed, stable, rate string
	)
	if err := row.Scan(&e.ID, &e.WalletID, &kind, &seed, &stable, &rate, &e.Reference, &e.Quantity,
		&mode, &e.Location, &e.ClientTxID, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.SwapMode = SwapMode(mode)
	var err error
	if e.SeedDelta, err = decimal.NewFromString(seed); err != nil {
		return Entry{}, err
	}
	if e.StableDelta, err = decimal.NewFromString(stable); err != nil {
		return Entry{}, err
	}
	if e.Rate, err = decimal.NewFromString(rate); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeFailure("scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list entries", err)
	}
	return entries, nil
}

func loadEffects(ctx context.Context, q querier, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		index[e.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT `+effectColumns+` FROM ledger_entry_effects
        WHERE entry_id::text = ANY($1)
        ORDER BY kind`, ids)
	if err != nil {
		return storeFailure("load effects", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entryID, kind, status, credited string
			eff                             Effect
		)
		if err := rows.Scan(&entryID, &kind, &status, &eff.TxRef, &credited, &eff.Error, &eff.Attempts, &eff.UpdatedAt); err != nil {
			return storeFailure("scan effect", err)
		}
		eff.Kind = EffectKind(kind)
		eff.Status = EffectStatus(status)
		if eff.StableCredited, err = decimal.NewFromString(credited); err != nil {
			return storeFailure("scan effect", err)
		}
		eff.UpdatedAt = eff.UpdatedAt.UTC()
		i := index[entryID]
		entries[i].Effects = append(entries[i].Effects, eff)
	}
	if err := rows.Err(); err != nil {
		return storeFailure("load effects", err)
	}
	return nil
}
