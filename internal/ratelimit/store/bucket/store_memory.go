package bucket

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"trackgate/internal/ratelimit/models"
)

const (
	defaultShards = 64
	// sweepEvery is how many accesses a shard takes between expiry sweeps.
	sweepEvery = 256
)

// InMemoryBucketStore implements a fixed-window counter per key. Keys are
// spread over independently locked shards so unrelated callers never contend.
// State is process-local: several instances each enforce their own limit.
type InMemoryBucketStore struct {
	shards []*shard
	now    func() time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*window
	ops     int
}

// window counts requests admitted since start.
type window struct {
	count   int
	resetAt time.Time
}

type Option func(*InMemoryBucketStore)

// WithClock replaces time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryBucketStore) {
		s.now = now
	}
}

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(s *InMemoryBucketStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// New creates a new in-memory bucket store.
func New(opts ...Option) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		shards: newShards(defaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string]*window)}
	}
	return shards
}

func (s *InMemoryBucketStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Allow counts one request against key and reports whether it fits the limit.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, windowLen time.Duration) (*models.Result, error) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.ops++
	if sh.ops >= sweepEvery {
		sh.sweep(now)
	}

	w := sh.buckets[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(windowLen)}
		sh.buckets[key] = w
	}

	if w.count >= limit {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}, nil
	}

	w.count++
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Reset clears the counter for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.buckets, key)
	return nil
}

// Len returns the number of live buckets, expired ones included until swept.
func (s *InMemoryBucketStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

// sweep drops buckets whose window has elapsed. Caller holds sh.mu.
func (sh *shard) sweep(now time.Time) {
	sh.ops = 0
	for key, w := range sh.buckets {
		if !now.Before(w.resetAt) {
			delete(sh.buckets, key)
		}
	}
}
