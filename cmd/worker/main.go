package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/notely/internal/archive"
	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("NOTELY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.Redis.Enabled() {
		log.Fatalf("worker needs NOTELY_REDIS_ADDR")
	}
	lg := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	gw := gateway.New(cfg.APIURL, cfg.HTTPTimeout, lg)
	var store worker.Store
	if cfg.Archive.Enabled() {
		arc, err := archive.New(cfg.Archive)
		if err != nil {
			log.Fatalf("init archive: %v", err)
		}
		if err := arc.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure bucket: %v", err)
		}
		store = arc
	} else {
		lg.Warn("worker.archive.disabled", "reason", "NOTELY_S3_ENDPOINT or NOTELY_S3_BUCKET not set")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})
	processor := worker.NewProcessor(gw, store, lg)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	lg.Info("worker.started", "redis", cfg.Redis.Addr, "concurrency", cfg.Worker.Concurrency)
	if err := server.Run(mux); err != nil {
		lg.Error("worker.stopped", "error", err)
		os.Exit(1)
	}
}
