// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stashbin/stashbin/pkg/logger"
)

// Redis is a fixed-window controller shared across instances. A redis
// outage fails open: availability of uploads wins over enforcement.
type Redis struct {
	client *redis.Client

	limit  int64
	window time.Duration
}

// NewRedis creates a redis-backed controller and verifies connectivity.
func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}

	limit := int64(cfg.Rate * cfg.Window.Seconds())
	if limit < 1 {
		limit = 1
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("admission: redis ping: %w", err)
	}

	return &Redis{
		client: client,
		limit:  limit,
		window: cfg.Window,
	}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) bool {
	windowKey := fmt.Sprintf("admission:%s:%d", key, time.Now().Unix()/int64(r.window.Seconds()))

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn().Err(err).
			Str("key", key).
			Msg("admission: redis unavailable, failing open")
		return true
	}
	return incr.Val() <= r.limit
}

func (r *Redis) Close() error {
	return r.client.Close()
}
