package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the instance holding the notification queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis holds the client shared by the queue and health checks.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a lazily connecting client. Reads outlive the five second
// BRPOP block used by the queue consumer.
func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Second,
		PoolSize:     8,
	})}
}

func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Backlog reports how many events wait undelivered on the list at key.
func (r *Redis) Backlog(ctx context.Context, key string) (int64, error) {
	return r.Client.LLen(ctx, key).Result()
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
