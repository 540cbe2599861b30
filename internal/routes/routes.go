package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/greenseed/greenseed_wallet/internal/catalog"
	"github.com/greenseed/greenseed_wallet/internal/config"
	"github.com/greenseed/greenseed_wallet/internal/identity"
	"github.com/greenseed/greenseed_wallet/internal/ledger"
	"github.com/greenseed/greenseed_wallet/internal/metrics"
	"github.com/greenseed/greenseed_wallet/internal/middleware"
	"github.com/greenseed/greenseed_wallet/internal/notification"
	"github.com/greenseed/greenseed_wallet/internal/orchestrator"
	"github.com/greenseed/greenseed_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Adapters overrides the effect adapters built from Cfg. Tests use it.
	Adapters *Adapters
}

// Setup configures middlewares and all application routes. The returned
// reconciler is not started.
func Setup(app *fiber.App, d Deps) (*orchestrator.Reconciler, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	ctx := context.Background()

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	var (
		store       ledger.Store
		catalogRepo catalog.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		catalogRepo = catalog.NewPostgresRepository(d.DB)
	} else {
		mem := catalog.NewMemoryRepository()
		store = ledger.NewInMemory(ledger.WithStockKeeper(mem))
		catalogRepo = mem
	}

	var materials catalog.MaterialRates = catalogRepo
	var cached *catalog.CachedRates
	if d.Cache != nil {
		cached = catalog.NewCachedRates(catalogRepo, d.Cache, d.Cfg.CatalogCacheTTL, d.Logger)
		materials = cached
	}
	if d.Cfg.CatalogFile != "" {
		if err := seedCatalog(ctx, catalogRepo, cached, d.Cfg.CatalogFile, d.Logger); err != nil {
			return nil, err
		}
	}

	adapters := d.Adapters
	if adapters == nil {
		built, err := BuildAdapters(d.Cfg, d.Logger)
		if err != nil {
			return nil, err
		}
		adapters = built
	}

	m := metrics.Default()
	writer := ledger.NewWriter(store, ledger.FixedRate(d.Cfg.SwapRate))
	orch, err := orchestrator.NewService(orchestrator.Deps{
		Store:         store,
		Writer:        writer,
		Materials:     materials,
		Rewards:       catalogRepo,
		Transferer:    adapters.Transferer,
		Swapper:       adapters.Swapper,
		Notifier:      notification.NewLoggerNotifier(d.Logger),
		Metrics:       m,
		Logger:        d.Logger,
		EffectTimeout: d.Cfg.EffectTimeout,
		AutoSwap:      d.Cfg.AutoSwapEnabled,
	})
	if err != nil {
		return nil, err
	}
	reconciler := orchestrator.NewReconciler(orch, orchestrator.ReconcilerConfig{
		Interval: d.Cfg.ReconcileInterval,
		Grace:    d.Cfg.ReconcileGrace,
		Batch:    d.Cfg.ReconcileBatch,
	})

	walletHandler := wallet.NewHandler(wallet.NewService(store))
	identityHandler := identity.NewHandler(identity.NewService(store, d.Logger))
	orchHandler := orchestrator.NewHandler(orch)
	catalogHandler := catalog.NewHandler(materials, catalogRepo)

	var depositLimit fiber.Handler
	if d.Cache != nil && d.Cfg.DepositRateLimit > 0 {
		depositLimit = middleware.DepositRateLimit(d.Cache, d.Cfg.DepositRateLimit, d.Logger)
	}

	api := app.Group("/api/v1")
	RegisterWalletRoutes(api, walletHandler, identityHandler)
	RegisterTransactionRoutes(api, orchHandler, depositLimit)
	RegisterCatalogRoutes(api, catalogHandler)

	return reconciler, nil
}

func seedCatalog(ctx context.Context, repo catalog.Repository, cached *catalog.CachedRates, path string, log *slog.Logger) error {
	seed, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	if err := repo.Seed(ctx, seed); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if cached != nil {
		kinds := make([]string, 0, len(seed.Materials))
		for _, m := range seed.Materials {
			kinds = append(kinds, m.Kind)
		}
		if err := cached.Invalidate(ctx, kinds...); err != nil {
			log.Warn("invalidate material cache", slog.Any("error", err))
		}
	}
	log.Info("catalog seeded",
		slog.String("file", path),
		slog.Int("materials", len(seed.Materials)),
		slog.Int("rewards", len(seed.Rewards)),
	)
	return nil
}
