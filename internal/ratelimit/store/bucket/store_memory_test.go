package bucket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "test:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("fifteen requests yield ten allowed then five denied", func() {
		var allowed, denied int
		for range 15 {
			result, err := s.store.Allow(s.ctx, "test:burst", testLimit, testWindow)
			s.Require().NoError(err)
			if result.Allowed {
				s.Equal(0, denied, "no request may be admitted after a denial")
				allowed++
			} else {
				s.Equal(0, result.Remaining)
				s.Equal(testWindow, result.RetryAfter)
				denied++
			}
		}
		s.Equal(10, allowed)
		s.Equal(5, denied)
	})

	s.Run("after window elapses a new request is allowed", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "test:reset", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "test:reset", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)

		s.now = s.now.Add(testWindow)
		result, err = s.store.Allow(s.ctx, "test:reset", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("retry after shrinks as the window runs out", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "test:retry", testLimit, testWindow)
			s.Require().NoError(err)
		}
		s.now = s.now.Add(40 * time.Second)
		result, err := s.store.Allow(s.ctx, "test:retry", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(20*time.Second, result.RetryAfter)
	})
}

func (s *InMemoryBucketStoreSuite) TestKeysAreIndependent() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "test:a", testLimit, testWindow)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "test:b", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "test:reset-key", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "test:reset-key"))

	result, err := s.store.Allow(s.ctx, "test:reset-key", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestExpiredBucketsArePruned() {
	s.store = New(WithShards(1), WithClock(func() time.Time { return s.now }))
	for i := range sweepEvery - 1 {
		_, err := s.store.Allow(s.ctx, fmt.Sprintf("test:prune:%d", i), testLimit, time.Second)
		s.Require().NoError(err)
	}
	s.Equal(sweepEvery-1, s.store.Len())

	s.now = s.now.Add(2 * time.Second)
	_, err := s.store.Allow(s.ctx, "test:prune:trigger", testLimit, time.Second)
	s.Require().NoError(err)
	s.Equal(1, s.store.Len())
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAccessAdmitsExactlyLimit() {
	const goroutines = 50
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "test:concurrent", testLimit, testWindow)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(testLimit), allowed.Load())
}
