package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/bazaar-market/bazaar-admin/internal/app"
	"github.com/bazaar-market/bazaar-admin/internal/authz"
	jobmetrics "github.com/bazaar-market/bazaar-admin/internal/jobs"
	"github.com/bazaar-market/bazaar-admin/internal/platform/cache"
	"github.com/bazaar-market/bazaar-admin/internal/platform/db"
	"github.com/bazaar-market/bazaar-admin/internal/rbac"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
	"github.com/bazaar-market/bazaar-admin/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// The worker holds no snapshots; it only tells the web processes to drop theirs.
	broadcaster := authz.NewBroadcaster(redisClient, nil, logger)
	rbacService := rbac.NewService(rbac.NewRepository(pool), broadcaster, shared.NewAuditLogger(pool), logger)
	reseedJob := jobs.NewPermissionsReseedJob(rbacService, logger, jobmetrics.NewMetrics(nil))

	reseedTask, err := jobs.NewPermissionsReseedTask(jobs.PermissionsReseedPayload{})
	if err != nil {
		logger.Error("build reseed task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsReseed, Handler: reseedJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReseedCron, Task: reseedTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
