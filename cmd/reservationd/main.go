package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"reservation-backend/config"
	"reservation-backend/internal/api"
	"reservation-backend/internal/booking"
	"reservation-backend/internal/db"
	"reservation-backend/internal/notification"
	"reservation-backend/internal/store"
	"reservation-backend/internal/sweeper"
	"reservation-backend/internal/tasks"
	"reservation-backend/internal/waitlist"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatal("VAPID keys must be configured; generate them and add them to the config file")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tasks.Ping(ctx, &cfg.Redis); err != nil {
		logger.Fatal("redis is unreachable, promotion queue cannot start", zap.Error(err))
	}

	appStore := store.NewGormStore(gormDB, logger)

	queueClient := tasks.NewClient(&cfg.Redis)
	defer queueClient.Close()

	notifier := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, logger)
	notifier.Start(ctx)

	bookingSvc := booking.NewService(appStore, &cfg.Booking, queueClient, notifier, logger)
	promoter := waitlist.NewPromoter(appStore, bookingSvc, &cfg.Waitlist, queueClient, notifier, logger)

	queueWorker := tasks.NewWorker(&cfg.Redis, promoter, logger)
	if err := queueWorker.Start(); err != nil {
		logger.Fatal("failed to start promotion queue worker", zap.Error(err))
	}

	sweep := sweeper.New(&cfg.Sweeper, bookingSvc, promoter, logger)
	go sweep.Run(ctx)

	router := api.NewRouter(&cfg.Server, appStore, bookingSvc, promoter, &webpushOptions, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server shutdown", zap.Error(err))
	}

	queueWorker.Shutdown()
	cancel()

	logger.Info("server gracefully stopped")
}
