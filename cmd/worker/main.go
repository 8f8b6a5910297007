package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"ComandaPay/internal/app"
	"ComandaPay/internal/config"
	"ComandaPay/internal/db"
	"ComandaPay/internal/logging"
	"ComandaPay/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	engine := app.Engine(cfg, st, app.Providers(cfg), logger)
	w := app.Sweeper(cfg, st, engine, logger)

	logger.Info("worker started",
		zap.Duration("interval", w.Interval),
		zap.Duration("min_age", w.MinAge),
		zap.Duration("max_age", w.MaxAge),
	)
	w.Run(ctx)
	logger.Info("worker stopped")
}
