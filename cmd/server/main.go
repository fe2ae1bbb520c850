package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"fxbilling/internal/cache"
	"fxbilling/internal/config"
	"fxbilling/internal/db"
	"fxbilling/internal/handlers"
	"fxbilling/internal/middleware"
	"fxbilling/internal/services"
	"fxbilling/internal/store"
	"fxbilling/internal/websocket"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	slog.SetDefault(logger)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	liveness, err := cache.New(cfg.RedisURL, cfg.HeartbeatTTL, cfg.CacheTimeout, logger)
	if err != nil {
		logger.Error("failed to configure redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer liveness.Close()

	users := store.NewUserStore(database)
	accounts := store.NewTradeAccountStore(database)
	payments := store.NewPaymentStore(database)
	packages := store.NewPackageStore(database)
	quotas := store.NewQuotaStore(database)
	referrals := store.NewReferralStore(database)
	strategies := store.NewStrategyStore(database)
	trades := store.NewTradeStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	botKeys := store.NewBotAPIKeyStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	syncer := services.NewSyncService(liveness, logger)
	paymentSvc := services.NewPaymentService(txRunner, payments, accounts, packages, quotas, referrals, audit, syncer, logger)
	botSvc := services.NewBotService(txRunner, accounts, strategies, trades, liveness, hub, cfg.OrdersBatchMax, logger)
	accountSvc := services.NewAccountService(txRunner, accounts, quotas, strategies, audit, syncer, liveness, logger)
	strategySvc := services.NewStrategyService(txRunner, strategies, audit, syncer, logger)

	handler := handlers.New(cfg, txRunner, users, accounts, payments, packages, referrals, trades, admin, audit, botKeys, liveness, botSvc, paymentSvc, accountSvc, strategySvc, hub)
	requestLogger := middleware.NewRequestLogger(logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(requestLogger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("billing API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(appEnv string) *slog.Logger {
	if appEnv == "development" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
