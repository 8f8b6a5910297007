// Package app wires the services shared by the api, worker and opsctl
// binaries from one Config.
package app

import (
	"time"

	"ComandaPay/internal/config"
	"ComandaPay/internal/notify"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/reconcile"
	"ComandaPay/internal/refund"
	"ComandaPay/internal/store"
	"ComandaPay/internal/worker"

	"go.uber.org/zap"
)

func Providers(cfg *config.Config) provider.Registry {
	return provider.NewRegistry(
		provider.NewMercadoPago(cfg.MercadoPago.BaseURL, time.Duration(cfg.MercadoPago.TimeoutSeconds)*time.Second),
		provider.NewPicPay(cfg.PicPay.BaseURL, time.Duration(cfg.PicPay.TimeoutSeconds)*time.Second),
	)
}

func Engine(cfg *config.Config, st *store.Store, providers provider.Registry, log *zap.Logger) reconcile.Engine {
	return reconcile.Engine{
		Store:              st,
		Providers:          providers,
		Log:                log.Named("reconcile"),
		PrepWindow:         cfg.PrepWindow(),
		ClaimWait:          cfg.ClaimWait(),
		ClaimWaitAttempts:  cfg.Reconcile.ClaimWaitAttempts,
		PlatformToken:      cfg.Platform.MercadoPagoAccessToken,
		SubscriptionPeriod: cfg.SubscriptionPeriod(),
	}
}

func Orchestrator(cfg *config.Config, st *store.Store, providers provider.Registry, log *zap.Logger) refund.Orchestrator {
	mailer := notify.NewHTTPMailer(cfg.Mail.BaseURL, cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.FromName)
	if !mailer.Enabled() {
		log.Info("refund receipts disabled: mail api key or sender not configured")
	}
	return refund.Orchestrator{
		Store:     st,
		Providers: providers,
		Notifier: notify.Notifier{
			Store:  st,
			Mailer: mailer,
			Log:    log.Named("notify"),
		},
		Log:           log.Named("refund"),
		AdminRoles:    cfg.Auth.AdminRoles,
		PlatformToken: cfg.Platform.MercadoPagoAccessToken,
	}
}

func Sweeper(cfg *config.Config, st *store.Store, engine reconcile.Engine, log *zap.Logger) *worker.Worker {
	return &worker.Worker{
		Store:      st,
		Reconciler: engine,
		Log:        log.Named("worker"),
		Interval:   time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		MinAge:     time.Duration(cfg.Worker.MinAgeSeconds) * time.Second,
		MaxAge:     cfg.MaxPollAge(),
		StuckAfter: time.Duration(cfg.Worker.StuckAfterMinutes) * time.Minute,
		BatchSize:  cfg.Worker.BatchSize,
	}
}
