package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/greenseed/greenseed_wallet/internal/chain"
	"github.com/greenseed/greenseed_wallet/internal/config"
)

const (
	breakerFailures   = 5
	breakerOpenPeriod = 30 * time.Second
)

// Adapters holds the external effect clients used by the orchestrator.
type Adapters struct {
	Transferer chain.Transferer
	Swapper    chain.Swapper
}

// BuildAdapters selects the transfer and swap backends named in cfg and wraps
// each behind its own circuit breaker.
func BuildAdapters(cfg config.Config, logger *slog.Logger) (*Adapters, error) {
	var transferer chain.Transferer
	switch cfg.TransferBackend {
	case config.BackendHTTP:
		client, err := chain.NewHTTPClient(cfg.EffectURL, cfg.EffectTimeout)
		if err != nil {
			return nil, err
		}
		transferer = client
	case config.BackendEVM:
		rpc, err := chain.DialEVMClient(cfg.EVMRPCURL)
		if err != nil {
			return nil, err
		}
		evm, err := chain.NewEVMTransferer(rpc, chain.EVMConfig{
			TokenAddress:  cfg.SeedTokenAddress,
			Decimals:      cfg.SeedTokenDecimals,
			PrivateKeyHex: cfg.TreasuryPrivateKey,
			ChainID:       cfg.EVMChainID,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("evm transfers enabled", slog.String("treasury", evm.From().Hex()), slog.Int64("chain_id", cfg.EVMChainID))
		transferer = evm
	case config.BackendStatic:
		transferer = chain.StaticTransferer{}
	default:
		return nil, fmt.Errorf("unknown transfer backend %q", cfg.TransferBackend)
	}

	var swapper chain.Swapper
	switch cfg.SwapBackend {
	case config.BackendHTTP:
		client, err := chain.NewHTTPClient(cfg.EffectURL, cfg.EffectTimeout)
		if err != nil {
			return nil, err
		}
		swapper = client
	case config.BackendStatic:
		swapper = chain.StaticSwapper{Rate: cfg.SwapRate}
	default:
		return nil, fmt.Errorf("unknown swap backend %q", cfg.SwapBackend)
	}

	return &Adapters{
		Transferer: chain.GuardTransferer(transferer, chain.NewGuard(guardConfig("transfer", cfg), logger)),
		Swapper:    chain.GuardSwapper(swapper, chain.NewGuard(guardConfig("swap", cfg), logger)),
	}, nil
}

func guardConfig(name string, cfg config.Config) chain.GuardConfig {
	return chain.GuardConfig{
		Name:                name,
		Timeout:             cfg.EffectTimeout,
		ConsecutiveFailures: breakerFailures,
		OpenPeriod:          breakerOpenPeriod,
	}
}
