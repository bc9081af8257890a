package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campusattend/internal/config"
	"campusattend/internal/logger"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/store"
	"campusattend/internal/webhook"
)

// Worker consumes notification events from redis and delivers them.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	if cfg.QueueBackend != config.BackendRedis {
		zl.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.Redis())
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet, consuming anyway", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	backlog, _ := redisClient.Backlog(ctx, cfg.QueueKey)
	zl.Info("worker started",
		zap.String("queue", cfg.QueueKey),
		zap.Int64("backlog", backlog),
		zap.Bool("webhook", cfg.DeliveryURL != ""),
	)
	if err := notify.Run(ctx, q, deliverer(ctx, cfg, zl), zl); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
	zl.Info("worker stopped")
}

// deliverer posts to DELIVERY_URL when set and only logs otherwise.
func deliverer(ctx context.Context, cfg config.App, zl *zap.Logger) notify.Deliverer {
	if cfg.DeliveryURL == "" {
		return notify.NewLogDeliverer(zl)
	}
	client := webhook.New(cfg.DeliveryURL, cfg.DeliveryTimeout)
	if err := client.Health(ctx); err != nil {
		zl.Warn("delivery endpoint not healthy yet", zap.String("url", cfg.DeliveryURL), zap.Error(err))
	}
	return client
}
