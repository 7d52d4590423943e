// Package redis implements a bucket store shared by every service instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"trackgate/internal/ratelimit/models"
	"trackgate/pkg/platform/circuit"
)

// fixedWindowScript increments the window counter and starts its expiry on
// the first hit. A key that somehow lost its TTL gets it back.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Fallback serves admissions while Redis is unavailable.
type Fallback interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Store implements a fixed-window counter in Redis. When calls fail it
// degrades to a process-local fallback behind a circuit breaker, probing
// Redis at most once per probe interval until the breaker closes.
type Store struct {
	client        redis.Cmdable
	fallback      Fallback
	breaker       *circuit.Breaker
	logger        *slog.Logger
	timeout       time.Duration
	probeInterval time.Duration
	now           func() time.Time
	lastProbe     atomic.Int64
	onFallback    func()
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		s.breaker = b
	}
}

func WithProbeInterval(d time.Duration) Option {
	return func(s *Store) {
		s.probeInterval = d
	}
}

// WithClock replaces time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithFallbackHook is called each time an admission is served by the fallback.
func WithFallbackHook(fn func()) Option {
	return func(s *Store) {
		s.onFallback = fn
	}
}

// New creates a Redis bucket store. fallback is required.
func New(client redis.Cmdable, fallback Fallback, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if fallback == nil {
		return nil, errors.New("fallback store is required")
	}
	s := &Store{
		client:        client,
		fallback:      fallback,
		breaker:       circuit.New("ratelimit-redis"),
		logger:        slog.Default(),
		timeout:       100 * time.Millisecond,
		probeInterval: 5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Allow counts one request against key.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	if s.breaker.IsOpen() && !s.shouldProbe() {
		return s.useFallback(ctx, key, limit, window)
	}

	result, err := s.allow(ctx, key, limit, window)
	if err != nil {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.logger.Warn("rate limit store degraded to process-local buckets", "error", err)
		}
		return s.useFallback(ctx, key, limit, window)
	}

	usePrimary, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.logger.Info("rate limit store recovered")
	}
	if !usePrimary {
		return s.useFallback(ctx, key, limit, window)
	}
	return result, nil
}

// Degraded reports whether admissions are currently served locally.
func (s *Store) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *Store) allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	res, err := fixedWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	resetAt := now.Add(ttl)
	if count > limit {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}, nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (s *Store) shouldProbe() bool {
	now := s.now().UnixNano()
	last := s.lastProbe.Load()
	if now-last < int64(s.probeInterval) {
		return false
	}
	return s.lastProbe.CompareAndSwap(last, now)
}

func (s *Store) useFallback(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	if s.onFallback != nil {
		s.onFallback()
	}
	return s.fallback.Allow(ctx, key, limit, window)
}
