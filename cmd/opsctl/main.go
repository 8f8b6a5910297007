package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ComandaPay/internal/config"
	"ComandaPay/internal/db"
	"ComandaPay/internal/logging"
	"ComandaPay/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tools for ComandaPay payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(stuckCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg   *config.Config
	log   *zap.Logger
	pool  *db.Pool
	store *store.Store
}

func (e *env) Close() {
	e.pool.Close()
	_ = e.log.Sync()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return &env{cfg: cfg, log: log, pool: pool, store: store.New(pool)}, nil
}
