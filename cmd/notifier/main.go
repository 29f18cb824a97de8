// Command notifier drains the notification queue and performs the external
// deliveries published by the API process.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dcabot/internal/config"
	"dcabot/internal/db"
	"dcabot/internal/logger"
	"dcabot/internal/notify"
	gormrepository "dcabot/internal/repository/gorm"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("DCA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("DCA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if strings.TrimSpace(cfg.Notify.Queue.URL) == "" {
		logger.Fatal("notify.queue.url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := &notify.Dispatcher{
		Senders: notify.SendersFromConfig(cfg.Notify, logger),
		Timeout: cfg.Notify.Timeout,
		Logger:  logger,
	}
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err := db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.Ping(ctx, dbConn); err != nil {
			logger.Fatal("db ping failed", zap.Error(err))
		}
		dispatcher.Repo = gormrepository.New(dbConn.Gorm)
	} else {
		logger.Warn("db dsn is empty, delivery outcomes are not recorded")
	}

	conn, err := notify.Dial(ctx, cfg.Notify.Queue.URL, cfg.Notify.Queue.MaxRetries, cfg.Notify.Queue.RetryDelay, logger)
	if err != nil {
		logger.Fatal("rabbitmq connect failed", zap.Error(err))
	}
	defer conn.Close()

	consumer, err := notify.NewQueueConsumer(conn, cfg.Notify.Queue.Name, 16, logger)
	if err != nil {
		logger.Fatal("queue consumer init failed", zap.Error(err))
	}
	defer consumer.Close()

	logger.Info("notifier consuming", zap.String("queue", cfg.Notify.Queue.Name))
	if err := consumer.Run(ctx, dispatcher.Deliver); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifier stopped", zap.Error(err))
	}
}
