// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package admission decides whether a caller may perform another operation
// right now. The upload core is independent of the policy; the API layer
// consults a Controller keyed by client identity before dispatching.
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mode selects an admission controller implementation.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeLocal Mode = "local"
	ModeRedis Mode = "redis"
)

// Controller is the admission contract: one call per inbound operation.
type Controller interface {
	// Allow reports whether the caller identified by key may proceed.
	Allow(ctx context.Context, key string) bool

	Close() error
}

// Config holds admission settings shared by the implementations.
type Config struct {
	Mode Mode

	// Rate is the sustained number of operations per second per key.
	Rate float64

	// Burst is the instantaneous allowance per key.
	Burst int

	// Window is the fixed-window length for the redis controller.
	Window time.Duration

	// RedisAddr is the redis endpoint for ModeRedis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Noop admits everything.
type Noop struct{}

func (Noop) Allow(ctx context.Context, key string) bool { return true }
func (Noop) Close() error                               { return nil }

// Local is a per-process token-bucket controller, one bucket per key.
// Suitable for single-instance deployments; multi-instance deployments
// should use the redis controller so the limit is shared.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*localBucket

	rate  rate.Limit
	burst int
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketIdleTTL controls pruning of buckets for keys that went quiet, so
// the map does not grow with every client address ever seen.
const bucketIdleTTL = 10 * time.Minute

// NewLocal creates a per-process controller admitting r operations per
// second with the given burst per key.
func NewLocal(r float64, burst int) *Local {
	if r <= 0 {
		r = 10
	}
	if burst <= 0 {
		burst = int(r)
	}
	return &Local{
		buckets: make(map[string]*localBucket),
		rate:    rate.Limit(r),
		burst:   burst,
	}
}

func (l *Local) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.prune(now)
		b = &localBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// prune drops idle buckets. Called with the lock held, only on the bucket
// allocation path so the hot path stays a map lookup.
func (l *Local) prune(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, k)
		}
	}
}

func (l *Local) Close() error { return nil }

// New creates a controller from config.
func New(cfg Config) (Controller, error) {
	switch cfg.Mode {
	case ModeLocal:
		return NewLocal(cfg.Rate, cfg.Burst), nil
	case ModeRedis:
		return NewRedis(cfg)
	default:
		return Noop{}, nil
	}
}
