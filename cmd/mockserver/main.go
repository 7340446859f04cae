// Command mockserver runs an in-memory stand-in for the note generation
// service. Jobs advance through their stages on a timer, which makes it
// possible to exercise the client end to end without the real backend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/mockserver"
)

func main() {
	cfg, err := config.Load(os.Getenv("NOTELY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store := mockserver.NewStore()
	pipeline := mockserver.NewPipeline(store, cfg.Mock.Workers, cfg.Mock.Step, lg)
	srv := mockserver.New(store, pipeline, mockserver.Options{
		Address:        cfg.Mock.Address,
		MaxUploadBytes: cfg.MaxVideoBytes,
		Logger:         lg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	lg.Info("mock.listening", "address", cfg.Mock.Address, "step", cfg.Mock.Step, "workers", cfg.Mock.Workers)
	if err := srv.Serve(ctx); err != nil {
		lg.Error("mock.stopped", "error", err)
		os.Exit(1)
	}
}
