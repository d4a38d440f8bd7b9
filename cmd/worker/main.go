package main

import (
	"context"
	"log/slog"
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
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, "meridian-worker")
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditService := audit.NewService(audit.NewRepository(pool), logger)
	hookRunner := hooks.NewRunner(logger)
	roleChecker := shared.NewPgRoleChecker(pool)
	toggles := shared.NewPgFeatureToggles(pool, logger)

	accountsRepo := accounts.NewRepository(pool)
	periodsRepo := periods.NewRepository(pool)
	documentsRepo := documents.NewRepository(pool)

	hardValidator := posting.NewHardValidator(accountsRepo, periodsRepo)
	lifecycle := documents.NewManager(documentsRepo, hardValidator, auditService, hookRunner, logger)

	resolver := approval.NewResolver(approval.NewPolicyStore(pool), roleChecker, logger)
	locker := shared.NewAccountLocker(redisClient, cfg.AccountLockTTL, cfg.AccountLockWait)
	postingRepo := posting.NewRepository(pool)
	rulesSource := posting.NewOrgRulesSource(pool, toggles, logger)
	postingService := posting.NewService(postingRepo, posting.NewRedisLocker(locker), lifecycle, resolver, auditService, hookRunner, rulesSource, logger)

	batchWorker := batch.NewWorker(postingService, postingRepo, logger, cfg.BatchConcurrency, cfg.BatchMaxRetries)

	metrics := jobmetrics.NewMetrics(nil)
	batchJob := jobs.NewBatchPostJob(batchWorker, logger, metrics)
	sealJob := jobs.NewAuditSealJob(auditService, cfg.SealCoolingPeriod, cfg.SealBatchSize, logger, metrics)
	integrityJob := jobs.NewLedgerIntegrityJob(pool, logger, metrics)

	sealTask, err := jobs.NewAuditSealTask(time.Now().UTC())
	if err != nil {
		logger.Error("build seal task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(0)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBatchPost, Handler: batchJob.Handle},
			{Type: jobs.TaskAuditSeal, Handler: sealJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SealCronSpec, Task: sealTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
