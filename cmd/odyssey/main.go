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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-rbac/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-rbac/internal/app"
	"github.com/odyssey-erp/odyssey-rbac/internal/auth"
	"github.com/odyssey-erp/odyssey-rbac/internal/observability"
	"github.com/odyssey-erp/odyssey-rbac/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	rbachttp "github.com/odyssey-erp/odyssey-rbac/internal/rbac/http"
	"github.com/odyssey-erp/odyssey-rbac/internal/resources"
	"github.com/odyssey-erp/odyssey-rbac/jobs"
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

	if len(os.Args) > 1 {
		if err := cli.Run(ctx, os.Args[1:], cfg.RedisAddr, os.Stdout); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(2)
		}
		return
	}

	metrics := observability.NewMetrics()

	registry := rbac.NewRegistry()
	if err := resources.Register(registry); err != nil {
		logger.Error("register resource types", slog.Any("error", err))
		os.Exit(1)
	}
	registry.Seal()

	var store rbac.Store = rbac.NewMemoryStore()
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate postgres", slog.Any("error", err))
			os.Exit(1)
		}
		store = rbac.NewRepository(pool)
	} else {
		logger.Warn("PG_DSN not set, role assignments are kept in memory")
	}

	var decisionCache *rbac.Cache
	var inspector *asynq.Inspector
	if cfg.RedisAddr != "" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, decision cache disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			decisionCache = rbac.NewCache(redisClient, cfg.CacheTTL, logger)
		}
		inspector = asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}

	rbacService := rbac.NewService(registry, store, rbac.ServiceConfig{
		Logger:  logger,
		Metrics: rbac.NewMetrics(metrics.Registerer()),
		Cache:   decisionCache,
	})
	policy := rbac.NewRelatedPolicy(registry, rbacService, cfg.RelatedPermissionLevels())
	resourceService := resources.NewService(resources.NewMemoryRepository(), registry, rbacService, policy, logger)

	tokens, err := auth.ParseTokens(cfg.APITokens)
	if err != nil {
		logger.Error("parse api tokens", slog.Any("error", err))
		os.Exit(1)
	}
	if tokens.Len() == 0 {
		logger.Warn("no api tokens configured, every request is anonymous")
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      auth.NewHandler(logger, auth.NewService(tokens, cfg.Superusers)),
		RBACHandler:      rbachttp.NewHandler(logger, rbacService),
		ResourcesHandler: resources.NewHandler(logger, resourceService, registry),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Any("related_levels", policy.Levels()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
