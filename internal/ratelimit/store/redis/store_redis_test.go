package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"trackgate/internal/ratelimit/store/bucket"
	"trackgate/pkg/platform/circuit"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type RedisStoreSuite struct {
	suite.Suite
	mr        *miniredis.Miniredis
	client    *goredis.Client
	store     *Store
	now       time.Time
	fallbacks int
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = goredis.NewClient(&goredis.Options{Addr: s.mr.Addr(), MaxRetries: -1})
	s.T().Cleanup(func() { _ = s.client.Close() })
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.fallbacks = 0

	var err error
	s.store, err = New(s.client,
		bucket.New(bucket.WithClock(func() time.Time { return s.now })),
		WithClock(func() time.Time { return s.now }),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
		WithProbeInterval(10*time.Second),
		WithFallbackHook(func() { s.fallbacks++ }),
	)
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) TestTenAllowedThenFiveDenied() {
	ctx := context.Background()
	var allowed, denied int
	for range 15 {
		result, err := s.store.Allow(ctx, "rl:admin:10.0.0.1", testLimit, testWindow)
		s.Require().NoError(err)
		if result.Allowed {
			allowed++
			continue
		}
		denied++
		s.Equal(0, result.Remaining)
		s.Equal(testWindow, result.RetryAfter)
	}
	s.Equal(10, allowed)
	s.Equal(5, denied)
	s.Zero(s.fallbacks)
}

func (s *RedisStoreSuite) TestWindowExpiryResetsCounter() {
	ctx := context.Background()
	for range testLimit + 1 {
		_, err := s.store.Allow(ctx, "rl:admin:10.0.0.2", testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.mr.FastForward(testWindow)

	result, err := s.store.Allow(ctx, "rl:admin:10.0.0.2", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *RedisStoreSuite) TestKeyWithoutTTLRegainsExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.client.Set(ctx, "rl:admin:stuck", "3", 0).Err())

	result, err := s.store.Allow(ctx, "rl:admin:stuck", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-4, result.Remaining)
	s.Equal(testWindow, s.mr.TTL("rl:admin:stuck"))
}

func (s *RedisStoreSuite) TestOutageDegradesToFallbackAndRecovers() {
	ctx := context.Background()
	s.mr.SetError("LOADING")

	for range 3 {
		result, err := s.store.Allow(ctx, "rl:pixel:10.0.0.3", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	}
	s.True(s.store.Degraded())
	s.Equal(3, s.fallbacks)

	// Still inside the probe interval: Redis is not consulted.
	s.mr.SetError("")
	_, err := s.store.Allow(ctx, "rl:pixel:10.0.0.3", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(s.store.Degraded())

	s.now = s.now.Add(11 * time.Second)
	_, err = s.store.Allow(ctx, "rl:pixel:10.0.0.3", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(s.store.Degraded())
}

func (s *RedisStoreSuite) TestFallbackStillEnforcesLimit() {
	ctx := context.Background()
	s.mr.SetError("LOADING")

	var denied int
	for range 15 {
		result, err := s.store.Allow(ctx, "rl:admin:10.0.0.4", testLimit, testWindow)
		s.Require().NoError(err)
		if !result.Allowed {
			denied++
		}
	}
	s.Equal(5, denied)
}

func (s *RedisStoreSuite) TestNewRequiresDependencies() {
	_, err := New(nil, bucket.New())
	s.Error(err)
	_, err = New(s.client, nil)
	s.Error(err)
}
