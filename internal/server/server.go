package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/greenseed/greenseed_wallet/internal/config"
	"github.com/greenseed/greenseed_wallet/internal/orchestrator"
	"github.com/greenseed/greenseed_wallet/internal/routes"
)

// Server wraps the Fiber application and its background reconciler.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	reconciler *orchestrator.Reconciler

	bgCtx   context.Context
	stop    context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	reconciler, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	bgCtx, stop := context.WithCancel(context.Background())
	return &Server{
		app:        app,
		cfg:        cfg,
		logger:     logger,
		reconciler: reconciler,
		bgCtx:      bgCtx,
		stop:       stop,
		done:       make(chan struct{}),
	}, nil
}

// Listen starts the reconciler and then the HTTP server. It blocks until the
// server stops.
func (s *Server) Listen() error {
	if s.started.CompareAndSwap(false, true) {
		go func() {
			defer close(s.done)
			s.reconciler.Run(s.bgCtx)
		}()
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the reconciler and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.started.Load() {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.logger.Warn("reconciler did not stop before shutdown deadline")
		}
	}
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App { return s.app }
