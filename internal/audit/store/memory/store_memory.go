package memory

import (
	"context"
	"sync"
	"time"

	"trackgate/internal/audit"
	id "trackgate/pkg/domain"
)

type record struct {
	change      audit.ConfigurationChange
	publishedAt time.Time
}

// InMemoryStore keeps changes in append order. It doubles as an outbox so
// the relay can run without a database.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []record
	byID    map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int)}
}

func (s *InMemoryStore) Append(_ context.Context, change audit.ConfigurationChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[change.ID]; ok {
		return nil
	}
	s.byID[change.ID] = len(s.records)
	s.records = append(s.records, record{change: change})
	return nil
}

func (s *InMemoryStore) ListByClient(_ context.Context, clientID id.ClientID) ([]audit.ConfigurationChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.ConfigurationChange{}
	for _, r := range s.records {
		if r.change.ClientID == clientID {
			out = append(out, r.change)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByTimeRange(_ context.Context, from, to time.Time) ([]audit.ConfigurationChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.ConfigurationChange{}
	for _, r := range s.records {
		ts := r.change.Timestamp
		if !ts.Before(from) && ts.Before(to) {
			out = append(out, r.change)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListUnpublished(_ context.Context, limit int) ([]audit.ConfigurationChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.ConfigurationChange
	for _, r := range s.records {
		if len(out) >= limit {
			break
		}
		if r.publishedAt.IsZero() {
			out = append(out, r.change)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, changeID := range ids {
		if i, ok := s.byID[changeID]; ok && s.records[i].publishedAt.IsZero() {
			s.records[i].publishedAt = at
		}
	}
	return nil
}

// Len returns the number of recorded changes.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
