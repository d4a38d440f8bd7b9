package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/approval"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/batch"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/hooks"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, "meridian-api")
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditService := audit.NewService(audit.NewRepository(dbpool), logger)
	hookRunner := hooks.NewRunner(logger)
	roleChecker := shared.NewPgRoleChecker(dbpool)
	toggles := shared.NewPgFeatureToggles(dbpool, logger)

	accountsRepo := accounts.NewRepository(dbpool)
	periodsRepo := periods.NewRepository(dbpool)
	documentsRepo := documents.NewRepository(dbpool)

	hardValidator := posting.NewHardValidator(accountsRepo, periodsRepo)
	lifecycle := documents.NewManager(documentsRepo, hardValidator, auditService, hookRunner, logger)
	documentsService := documents.NewService(documentsRepo, auditService, hookRunner, logger)

	resolver := approval.NewResolver(approval.NewPolicyStore(dbpool), roleChecker, logger)
	locker := shared.NewAccountLocker(redisClient, cfg.AccountLockTTL, cfg.AccountLockWait)
	postingRepo := posting.NewRepository(dbpool)
	rulesSource := posting.NewOrgRulesSource(dbpool, toggles, logger)
	postingService := posting.NewService(postingRepo, posting.NewRedisLocker(locker), lifecycle, resolver, auditService, hookRunner, rulesSource, logger)

	periodsService := periods.NewService(periodsRepo, roleChecker, auditService, logger)
	batchWorker := batch.NewWorker(postingService, postingRepo, logger, cfg.BatchConcurrency, cfg.BatchMaxRetries)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		DocumentsHandler: documents.NewHandler(logger, documentsService, lifecycle),
		PostingHandler:   posting.NewHandler(logger, postingService),
		PeriodsHandler:   periods.NewHandler(logger, periodsService),
		AuditHandler:     audit.NewHandler(logger, auditService),
		BatchHandler:     batch.NewHandler(logger, batchWorker, jobs.BatchEnqueuer{Client: jobsClient}),
		JobsHandler:      jobs.NewHandler(inspector, logger),
		Metrics:          observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
