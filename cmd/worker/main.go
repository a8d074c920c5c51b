package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/shopforge/shopforge/internal/blobstore"
	"github.com/shopforge/shopforge/internal/config"
	"github.com/shopforge/shopforge/internal/database"
	"github.com/shopforge/shopforge/internal/pipeline"
	"github.com/shopforge/shopforge/internal/queue"
	"github.com/shopforge/shopforge/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Error("ensure schema", "error", err)
		os.Exit(1)
	}
	shops := repository.NewShopRepository(pool)
	products := repository.NewProductRepository(pool)
	reconciler := repository.NewReconciler(shops, products, log)

	store, err := blobstore.New(cfg)
	if err != nil {
		log.Error("init blob store", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Error("ensure bucket", "error", err)
		os.Exit(1)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	pipe := pipeline.New(store, reconciler, log, pipeline.Options{
		Parallelism:   cfg.WorkerConcurrency,
		TempRetention: cfg.TempRetention,
	})
	mux := pipe.Handler()

	scheduler := asynq.NewScheduler(redisOpt, nil)
	sweepSpec := fmt.Sprintf("@every %s", cfg.TempSweepEvery)
	if _, err := scheduler.Register(sweepSpec, asynq.NewTask(queue.TempSweepTask, nil)); err != nil {
		log.Error("register temp sweep", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
