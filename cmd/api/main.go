package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ComandaPay/internal/app"
	"ComandaPay/internal/config"
	"ComandaPay/internal/db"
	internalhttp "ComandaPay/internal/http"
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

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	providers := app.Providers(cfg)
	engine := app.Engine(cfg, st, providers, logger)
	refunds := app.Orchestrator(cfg, st, providers, logger)
	if cfg.Platform.MercadoPagoAccessToken == "" {
		logger.Warn("platform mercadopago token not configured: subscription reconcile and refunds are disabled")
	}

	h := internalhttp.NewHandler(engine, refunds, logger.Named("http"))
	h.MercadoPagoWebhookSecret = cfg.MercadoPago.WebhookSecret
	h.StreamInterval = time.Duration(cfg.Stream.IntervalSeconds) * time.Second
	h.MaxPollAge = cfg.MaxPollAge()
	h.AllowedOrigins = cfg.Stream.AllowedOrigins

	auth := internalhttp.Authenticator{Secret: []byte(cfg.Auth.JWTSecret), AdminRoles: cfg.Auth.AdminRoles}
	limiter := internalhttp.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	srv := internalhttp.NewServer(h, auth, limiter)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
