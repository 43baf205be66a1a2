package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/redis/go-redis/v9"
)

const keyPattern = "intake:submission:%s"

var _ port.SubmissionGuard = RedisGuard{}

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	const op = "cache.NewRedisClient"

	cl := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := cl.Ping(ctx).Result(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("%s: redis is unavailable: %w", op, err)
	}
	return cl, nil
}

// A RedisGuard remembers submission ids for ttl, so a redelivered draft is
// not submitted twice.
type RedisGuard struct {
	cl  redisClient
	ttl time.Duration
}

func NewRedisGuard(cl redisClient, ttl time.Duration) RedisGuard {
	return RedisGuard{cl, ttl}
}

func (g RedisGuard) Acquire(ctx context.Context, submissionID string) (bool, error) {
	const op = "RedisGuard.Acquire"

	key := fmt.Sprintf(keyPattern, submissionID)
	ok, err := g.cl.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		slog.Debug("submission already seen", "op", op, "submissionID", submissionID)
	}
	return ok, nil
}

func (g RedisGuard) Release(ctx context.Context, submissionID string) error {
	const op = "RedisGuard.Release"

	key := fmt.Sprintf(keyPattern, submissionID)
	if err := g.cl.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// NopGuard accepts every submission.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string) (bool, error) {
	return true, nil
}

func (NopGuard) Release(context.Context, string) error {
	return nil
}
