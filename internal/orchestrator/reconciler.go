package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
	"github.com/greenseed/greenseed_wallet/internal/metrics"
)

// ReconcilerConfig controls the background sweep.
type ReconcilerConfig struct {
	Interval time.Duration
	// Grace is how old a never-attempted effect must be before the sweep picks it up.
	Grace time.Duration
	Batch int
}

// Reconciler attempts deposit effects that were committed but never tried,
// e.g. because the process stopped between the ledger write and the adapter calls.
// Failed effects are left for an explicit retry.
type Reconciler struct {
	svc     *Service
	cfg     ReconcilerConfig
	logger  *slog.Logger
	metrics *metrics.Ledger
}

// NewReconciler builds a reconciler over the orchestrator.
func NewReconciler(svc *Service, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &Reconciler{svc: svc, cfg: cfg, logger: svc.logger, metrics: svc.metrics}
}

// Sweep runs one reconciliation pass and returns how many effects were attempted.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.svc.now().Add(-r.cfg.Grace)
	entries, err := r.svc.store.StaleEffects(ctx, cutoff, r.cfg.Batch)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}
		w, err := r.svc.store.Wallet(ctx, entry.WalletID)
		if err != nil {
			r.logger.Error("reconcile wallet lookup", slog.String("entry_id", entry.ID), slog.Any("error", err))
			continue
		}
		for _, eff := range entry.Effects {
			if eff.Status != ledger.EffectNotAttempted {
				continue
			}
			res, err := r.svc.attempt(ctx, entry, eff.Kind, w.Address)
			if errors.Is(err, ErrEffectInProgress) {
				continue
			}
			if err != nil {
				r.logger.Error("reconcile effect", slog.String("entry_id", entry.ID), slog.String("effect", string(eff.Kind)), slog.Any("error", err))
				continue
			}
			attempted++
			r.logger.Info("reconciled effect",
				slog.String("entry_id", entry.ID),
				slog.String("effect", string(eff.Kind)),
				slog.String("status", string(res.Status)),
			)
		}
	}
	r.metrics.ObserveReconcile(attempted)
	return attempted, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("reconcile sweep failed", slog.Any("error", err))
			} else if n > 0 {
				r.logger.Info("reconcile sweep finished", slog.Int("attempted", n))
			}
		}
	}
}
