package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/greenseed/greenseed_wallet/internal/catalog"
	"github.com/greenseed/greenseed_wallet/internal/chain"
	"github.com/greenseed/greenseed_wallet/internal/ledger"
	"github.com/greenseed/greenseed_wallet/internal/metrics"
	"github.com/greenseed/greenseed_wallet/internal/notification"
)

const defaultEffectTimeout = 15 * time.Second

// ErrEffectInProgress is returned when the same effect is already being attempted.
var ErrEffectInProgress = fmt.Errorf("%w: effect attempt already in progress", ledger.ErrValidation)

// Deps are the collaborators of the orchestrator, assembled once at startup.
type Deps struct {
	Store      ledger.Store
	Writer     *ledger.Writer
	Materials  catalog.MaterialRates
	Rewards    catalog.Rewards
	Transferer chain.Transferer
	Swapper    chain.Swapper
	Notifier   notification.Notifier
	Metrics    *metrics.Ledger
	Logger     *slog.Logger

	EffectTimeout time.Duration
	// AutoSwap attaches an auto_swap effect to every deposit.
	AutoSwap bool
}

// Service sequences deposits, swaps and redemptions into a ledger write
// followed by best-effort external effects.
type Service struct {
	store      ledger.Store
	writer     *ledger.Writer
	materials  catalog.MaterialRates
	rewards    catalog.Rewards
	transferer chain.Transferer
	swapper    chain.Swapper
	notifier   notification.Notifier
	metrics    *metrics.Ledger
	logger     *slog.Logger

	effectTimeout time.Duration
	autoSwap      bool
	now           func() time.Time

	inflight sync.Map
}

// NewService validates deps and builds the orchestrator.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, fmt.Errorf("ledger store is required")
	case d.Writer == nil:
		return nil, fmt.Errorf("ledger writer is required")
	case d.Materials == nil:
		return nil, fmt.Errorf("material rates are required")
	case d.Rewards == nil:
		return nil, fmt.Errorf("reward catalog is required")
	case d.Transferer == nil:
		return nil, fmt.Errorf("transfer adapter is required")
	case d.AutoSwap && d.Swapper == nil:
		return nil, fmt.Errorf("swap adapter is required when auto swap is enabled")
	case d.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	}
	timeout := d.EffectTimeout
	if timeout <= 0 {
		timeout = defaultEffectTimeout
	}
	return &Service{
		store:         d.Store,
		writer:        d.Writer,
		materials:     d.Materials,
		rewards:       d.Rewards,
		transferer:    d.Transferer,
		swapper:       d.Swapper,
		notifier:      d.Notifier,
		metrics:       d.Metrics,
		logger:        d.Logger,
		effectTimeout: timeout,
		autoSwap:      d.AutoSwap,
		now:           time.Now,
	}, nil
}

// EffectResult is the outcome of one external effect, returned to the caller
// alongside the committed entry.
type EffectResult struct {
	Kind           ledger.EffectKind
	Status         ledger.EffectStatus
	TxRef          string
	StableCredited decimal.Decimal
	Error          string
}

// Failed reports whether the effect was attempted and did not complete.
func (r EffectResult) Failed() bool { return r.Status == ledger.EffectFailed }

// DepositInput describes a material deposit.
type DepositInput struct {
	WalletID   string
	Material   string
	Quantity   int64
	Location   string
	ClientTxID string
}

// DepositResult composes the committed entry with the outcome of each effect.
type DepositResult struct {
	Entry    ledger.Entry
	Transfer EffectResult
	AutoSwap EffectResult
}

// Degraded reports whether the deposit committed but an effect failed.
func (r DepositResult) Degraded() bool {
	return r.Transfer.Failed() || r.AutoSwap.Failed()
}

// Deposit credits seed for the deposited material, then sends the credit
// on-chain and auto-swaps it. Effect failures never undo the credit; they are
// reported in the result. On ErrDuplicateTransaction the original entry is
// returned with its recorded effect statuses and no effect is re-attempted.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (DepositResult, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return DepositResult{}, ledger.Validationf("quantity must be at least 1")
	}
	material := strings.TrimSpace(in.Material)
	if material == "" {
		return DepositResult{}, ledger.Validationf("material is required")
	}

	w, err := s.store.Wallet(ctx, in.WalletID)
	if err != nil {
		return DepositResult{}, err
	}
	rate, err := s.materials.MaterialRate(ctx, material)
	if err != nil {
		return DepositResult{}, err
	}

	effects := []ledger.EffectKind{ledger.EffectTransfer}
	if s.autoSwap {
		effects = append(effects, ledger.EffectAutoSwap)
	}
	entry, err := s.writer.Record(ctx, ledger.Posting{
		WalletID:   w.ID,
		Kind:       ledger.KindDeposit,
		SeedDelta:  rate.Mul(decimal.NewFromInt(in.Quantity)),
		Rate:       rate,
		Reference:  material,
		Quantity:   in.Quantity,
		Location:   strings.TrimSpace(in.Location),
		ClientTxID: in.ClientTxID,
		Effects:    effects,
	})
	s.observePosting(ledger.KindDeposit, err)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return DepositResult{Entry: entry, Transfer: recorded(entry, ledger.EffectTransfer), AutoSwap: recorded(entry, ledger.EffectAutoSwap)}, err
	}
	if err != nil {
		return DepositResult{}, err
	}

	s.logger.Info("deposit committed",
		slog.String("wallet_id", w.ID),
		slog.String("entry_id", entry.ID),
		slog.String("material", material),
		slog.String("seed_delta", entry.SeedDelta.String()),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindDepositCredited,
		Destination: w.Address,
		EntryID:     entry.ID,
		Body:        fmt.Sprintf("+%s %s por %d x %s", entry.SeedDelta, ledger.CurrencySeed, in.Quantity, material),
	})

	// The credit is committed; effects run detached from the caller so a
	// dropped connection cannot leave them half done.
	results := s.runEffects(context.WithoutCancel(ctx), entry, w.Address, effects)
	out := DepositResult{
		Entry:    entry,
		Transfer: results[ledger.EffectTransfer],
		AutoSwap: results[ledger.EffectAutoSwap],
	}
	if latest, err := s.store.Entry(ctx, entry.ID); err == nil {
		out.Entry = latest
	}
	if out.AutoSwap.Kind == "" {
		out.AutoSwap = EffectResult{Kind: ledger.EffectAutoSwap, Status: ledger.EffectNotAttempted}
	}
	return out, nil
}

// SwapInput describes a seed to stable conversion.
type SwapInput struct {
	WalletID   string
	SeedAmount decimal.Decimal
	Mode       ledger.SwapMode
	ClientTxID string
}

// Swap converts seed credit into the stable currency at the rate in effect
// when the ledger commits. It is an internal accounting conversion with no
// external effect.
func (s *Service) Swap(ctx context.Context, in SwapInput) (ledger.Entry, error) {
	if !in.SeedAmount.IsPositive() {
		return ledger.Entry{}, ledger.Validationf("seed amount must be positive")
	}
	switch in.Mode {
	case "":
		in.Mode = ledger.SwapManual
	case ledger.SwapManual, ledger.SwapAuto:
	default:
		return ledger.Entry{}, ledger.Validationf("unknown swap mode %q", in.Mode)
	}
	w, err := s.store.Wallet(ctx, in.WalletID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if in.SeedAmount.GreaterThan(w.SeedBalance) {
		s.observePosting(ledger.KindSwap, ledger.ErrInsufficientBalance)
		return ledger.Entry{}, &ledger.InsufficientBalanceError{Currency: ledger.CurrencySeed, Available: w.SeedBalance, Required: in.SeedAmount}
	}

	entry, err := s.writer.Record(ctx, ledger.Posting{
		WalletID:   w.ID,
		Kind:       ledger.KindSwap,
		SeedDelta:  in.SeedAmount.Neg(),
		SwapMode:   in.Mode,
		ClientTxID: in.ClientTxID,
	})
	s.observePosting(ledger.KindSwap, err)
	if err != nil {
		return entry, err
	}
	s.logger.Info("swap committed",
		slog.String("wallet_id", w.ID),
		slog.String("entry_id", entry.ID),
		slog.String("rate", entry.Rate.String()),
		slog.String("stable_delta", entry.StableDelta.String()),
	)
	return entry, nil
}

// RedeemInput describes a reward redemption.
type RedeemInput struct {
	WalletID   string
	RewardID   string
	ClientTxID string
}

// Redeem spends seed credit on a reward. Balance and stock are checked here
// and again inside the ledger write, so of two redemptions racing for the last
// unit exactly one commits. Delivery is left pending for fulfillment.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (ledger.Entry, error) {
	reward, err := s.rewards.Reward(ctx, strings.TrimSpace(in.RewardID))
	if err != nil {
		return ledger.Entry{}, err
	}
	w, err := s.store.Wallet(ctx, in.WalletID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if reward.Cost.GreaterThan(w.SeedBalance) {
		s.observePosting(ledger.KindRedemption, ledger.ErrInsufficientBalance)
		return ledger.Entry{}, &ledger.InsufficientBalanceError{Currency: ledger.CurrencySeed, Available: w.SeedBalance, Required: reward.Cost}
	}
	if reward.Stock <= 0 {
		s.observePosting(ledger.KindRedemption, ledger.ErrOutOfStock)
		return ledger.Entry{}, fmt.Errorf("reward %s: %w", reward.ID, ledger.ErrOutOfStock)
	}

	entry, err := s.writer.Record(ctx, ledger.Posting{
		WalletID:   w.ID,
		Kind:       ledger.KindRedemption,
		SeedDelta:  reward.Cost.Neg(),
		Reference:  reward.ID,
		RewardID:   reward.ID,
		ClientTxID: in.ClientTxID,
		Effects:    []ledger.EffectKind{ledger.EffectFulfillment},
	})
	s.observePosting(ledger.KindRedemption, err)
	if err != nil {
		return entry, err
	}

	s.logger.Info("redemption committed",
		slog.String("wallet_id", w.ID),
		slog.String("entry_id", entry.ID),
		slog.String("reward_id", reward.ID),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindRewardRedeemed,
		Destination: w.Address,
		EntryID:     entry.ID,
		Body:        fmt.Sprintf("%s canjeado por %s %s (%s)", reward.Name, reward.Cost, ledger.CurrencySeed, reward.Type),
	})
	return entry, nil
}

// RetryEffect re-attempts one failed or never-attempted effect of a deposit.
// The ledger entry itself is never touched.
func (s *Service) RetryEffect(ctx context.Context, entryID string, kind ledger.EffectKind) (EffectResult, error) {
	if kind != ledger.EffectTransfer && kind != ledger.EffectAutoSwap {
		return EffectResult{}, ledger.Validationf("effect %q cannot be retried", kind)
	}
	entry, err := s.store.Entry(ctx, entryID)
	if err != nil {
		return EffectResult{}, err
	}
	if entry.Kind != ledger.KindDeposit {
		return EffectResult{}, ledger.Validationf("entry %s is a %s, only deposit effects can be retried", entry.ID, entry.Kind)
	}
	current, ok := entry.Effect(kind)
	if !ok {
		return EffectResult{}, fmt.Errorf("effect %s of entry %s: %w", kind, entry.ID, ledger.ErrNotFound)
	}
	if current.Status == ledger.EffectSucceeded {
		return EffectResult{}, ledger.Validationf("effect %s of entry %s already succeeded", kind, entry.ID)
	}
	w, err := s.store.Wallet(ctx, entry.WalletID)
	if err != nil {
		return EffectResult{}, err
	}
	return s.attempt(context.WithoutCancel(ctx), entry, kind, w.Address)
}

func (s *Service) runEffects(ctx context.Context, entry ledger.Entry, address string, kinds []ledger.EffectKind) map[ledger.EffectKind]EffectResult {
	var (
		mu      sync.Mutex
		results = make(map[ledger.EffectKind]EffectResult, len(kinds))
		g       errgroup.Group
	)
	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			res, err := s.attempt(ctx, entry, kind, address)
			if err != nil {
				res = EffectResult{Kind: kind, Status: ledger.EffectNotAttempted, Error: err.Error()}
			}
			mu.Lock()
			results[kind] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// attempt calls the adapter for one effect under the effect timeout and
// patches the outcome onto the entry.
func (s *Service) attempt(ctx context.Context, entry ledger.Entry, kind ledger.EffectKind, address string) (EffectResult, error) {
	key := entry.ID + "|" + string(kind)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		return EffectResult{}, ErrEffectInProgress
	}
	defer s.inflight.Delete(key)

	if kind != ledger.EffectTransfer && kind != ledger.EffectAutoSwap {
		return EffectResult{}, ledger.Validationf("effect %q has no adapter", kind)
	}
	prev, _ := entry.Effect(kind)
	callCtx, cancel := context.WithTimeout(ctx, s.effectTimeout)
	defer cancel()

	start := s.now()
	done := make(chan EffectResult, 1)
	errs := make(chan error, 1)
	go func() {
		r, err := s.call(callCtx, kind, address, entry.SeedDelta)
		if err != nil {
			errs <- err
			return
		}
		done <- r
	}()

	var (
		res     EffectResult
		callErr error
	)
	select {
	case res = <-done:
	case callErr = <-errs:
	case <-callCtx.Done():
		callErr = fmt.Errorf("%w: %s timed out after %s", chain.ErrEffectFailed, kind, s.effectTimeout)
	}
	elapsed := s.now().Sub(start)

	if callErr != nil {
		res = EffectResult{Kind: kind, Status: ledger.EffectFailed, Error: callErr.Error()}
		s.logger.Warn("external effect failed",
			slog.String("entry_id", entry.ID),
			slog.String("effect", string(kind)),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", callErr),
		)
		s.notify(ctx, notification.Message{
			Kind:        notification.KindEffectFailed,
			Destination: address,
			EntryID:     entry.ID,
			Body:        fmt.Sprintf("%s pendiente: %s", kind, callErr),
		})
	} else {
		res.Kind = kind
		res.Status = ledger.EffectSucceeded
	}
	s.metrics.ObserveEffect(string(kind), string(res.Status), elapsed)

	_, err := s.store.SetEffect(ctx, entry.ID, ledger.Effect{
		Kind:           kind,
		Status:         res.Status,
		TxRef:          res.TxRef,
		StableCredited: res.StableCredited,
		Error:          res.Error,
		Attempts:       prev.Attempts + 1,
		UpdatedAt:      s.now().UTC(),
	})
	if err != nil {
		// the outcome is still reported; the stored status stays behind and
		// the reconciler may attempt the effect again
		s.logger.Error("record effect status",
			slog.String("entry_id", entry.ID),
			slog.String("effect", string(kind)),
			slog.String("status", string(res.Status)),
			slog.Any("error", err),
		)
	}
	return res, nil
}

func (s *Service) call(ctx context.Context, kind ledger.EffectKind, address string, amount decimal.Decimal) (EffectResult, error) {
	if kind == ledger.EffectAutoSwap {
		if s.swapper == nil {
			return EffectResult{}, fmt.Errorf("%w: no swap adapter configured", chain.ErrEffectFailed)
		}
		receipt, err := s.swapper.Convert(ctx, address, amount)
		if err != nil {
			return EffectResult{}, err
		}
		return EffectResult{TxRef: receipt.TxRef, StableCredited: receipt.StableCredited}, nil
	}
	receipt, err := s.transferer.Send(ctx, address, amount)
	if err != nil {
		return EffectResult{}, err
	}
	return EffectResult{TxRef: receipt.TxRef}, nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func (s *Service) observePosting(kind ledger.Kind, err error) {
	outcome := "committed"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		outcome = "duplicate"
	case errors.Is(err, ledger.ErrStoreFailure):
		outcome = "failed"
	default:
		outcome = "rejected"
	}
	s.metrics.ObservePosting(string(kind), outcome)
}

func recorded(entry ledger.Entry, kind ledger.EffectKind) EffectResult {
	eff, ok := entry.Effect(kind)
	if !ok {
		return EffectResult{Kind: kind, Status: ledger.EffectNotAttempted}
	}
	return EffectResult{Kind: kind, Status: eff.Status, TxRef: eff.TxRef, StableCredited: eff.StableCredited, Error: eff.Error}
}
