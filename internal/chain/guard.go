package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// GuardConfig bounds each call to an effect service.
type GuardConfig struct {
	Name                string
	Timeout             time.Duration
	ConsecutiveFailures uint32
	// OpenPeriod is how long the breaker rejects calls before probing again.
	OpenPeriod time.Duration
}

// Guard runs effect calls with a timeout behind a circuit breaker.
type Guard struct {
	name    string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds a guard. Zero values get sensible defaults.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenPeriod <= 0 {
		cfg.OpenPeriod = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "effect-" + cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("effect breaker state changed", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			}
		},
	}
	return &Guard{name: cfg.Name, timeout: cfg.Timeout, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state (closed, half-open or open).
func (g *Guard) State() string { return g.breaker.State().String() }

// Do runs fn with the guard timeout. Calls still running at the deadline are
// abandoned and reported as failed.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.breaker.Execute(func() (interface{}, error) {
		done := make(chan error, 1)
		go func() { done <- fn(ctx) }()
		select {
		case err := <-done:
			return nil, err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s timed out after %s", ErrEffectFailed, g.name, g.timeout)
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s unavailable: %v", ErrEffectFailed, g.name, err)
	case errors.Is(err, ErrEffectFailed):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrEffectFailed, g.name, err)
	}
}

// GuardTransferer wraps next so every Send goes through guard.
func GuardTransferer(next Transferer, guard *Guard) Transferer {
	return TransferFunc(func(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error) {
		var receipt TransferReceipt
		err := guard.Do(ctx, func(ctx context.Context) error {
			r, err := next.Send(ctx, toAddress, amount)
			receipt = r
			return err
		})
		if err != nil {
			return TransferReceipt{}, err
		}
		return receipt, nil
	})
}

// GuardSwapper wraps next so every Convert goes through guard.
func GuardSwapper(next Swapper, guard *Guard) Swapper {
	return SwapFunc(func(ctx context.Context, walletAddress string, seedAmount decimal.Decimal) (SwapReceipt, error) {
		var receipt SwapReceipt
		err := guard.Do(ctx, func(ctx context.Context) error {
			r, err := next.Convert(ctx, walletAddress, seedAmount)
			receipt = r
			return err
		})
		if err != nil {
			return SwapReceipt{}, err
		}
		return receipt, nil
	})
}
