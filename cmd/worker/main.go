package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"app-build-queue/internal/config"
	"app-build-queue/internal/infra/adapters/executor"
	pg "app-build-queue/internal/infra/db/postgres"
	"app-build-queue/internal/infra/logging"
	"app-build-queue/internal/infra/metrics"
	red "app-build-queue/internal/infra/redis"
	"app-build-queue/internal/infra/scheduler"
	"app-build-queue/internal/infra/web"
	"app-build-queue/internal/infra/worker"
	"app-build-queue/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()

	// ---- Postgres ----
	pool := pg.MustConnectPostgres(cfg.Database.URL)
	defer pool.Close()

	// ---- Metrics ----
	metrics.MustRegister()

	// ---- Store-backed components ----
	queue := red.NewBuildQueue(redisClient, cfg.Queue.Cap)
	sems := red.NewSemaphoreProvider(redisClient, cfg.Queue.LeaseTTL)
	jobs := red.NewJobStateRepo(redisClient)
	events := red.NewEventPublisher(redisClient)
	_ = red.NewUsageRepo(redisClient)
	durations := red.NewDurationStore(redisClient)
	archive := pg.NewBuildRecordRepo(pool)

	// ---- Use cases ----
	lifecycle := usecase.NewJobLifecycle(jobs, events, logger)
	estimator := usecase.NewWaitEstimator(durations)
	// The executor is a stand-in: it satisfies the pipeline contract
	// without invoking an external build service.
	exec := &executor.NoopExecutor{}
	wrk := usecase.NewWorker(queue, jobs, sems, archive, lifecycle, estimator, exec, logger)
	maintenance := usecase.NewMaintenanceUseCase(queue, jobs, sems, lifecycle, logger)

	// ---- Drivers ----
	pool2 := worker.NewPool(cfg.Worker.PoolSize, logger)
	pool2.Start(ctx)
	runner := worker.NewRunner(wrk, cfg.Worker.PollInterval, logger)
	go runner.Start(ctx, pool2)

	locker := red.NewLocker(redisClient)
	sched := scheduler.NewScheduler(maintenance, locker, cfg.Scheduler.PromoteInterval, cfg.Scheduler.ReapInterval, cfg.Queue.ReapAge, logger)
	sched.Start(ctx)

	ops := web.NewServer(queue, cfg.Admin.Port, cfg.Admin.APIKey, logger)
	go func() {
		if err := ops.Start(); err != nil {
			logger.Warn().Err(err).Msg("ops server stopped")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	cancel()
	sched.Stop()
	pool2.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = ops.Shutdown(shutdownCtx)
}
