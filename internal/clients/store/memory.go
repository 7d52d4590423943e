// Package store implements the client registry's persistence.
package store

import (
	"context"
	"sort"
	"sync"

	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	id "trackgate/pkg/domain"
	"trackgate/pkg/platform/sentinel"
)

// InMemory is a process-local registry. Transactions hold the store lock for
// their whole duration and stage writes in an overlay applied on commit, so a
// failed transaction leaves no trace.
type InMemory struct {
	mu       sync.RWMutex
	clients  map[id.ClientID]*models.Client
	domains  map[string]*models.Domain
	byClient map[id.ClientID]map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		clients:  make(map[id.ClientID]*models.Client),
		domains:  make(map[string]*models.Domain),
		byClient: make(map[id.ClientID]map[string]struct{}),
	}
}

var _ ports.Store = (*InMemory)(nil)

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		clients: make(map[id.ClientID]*models.Client),
		domains: make(map[string]*models.Domain),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *InMemory) FindClient(_ context.Context, clientID id.ClientID) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemory) ListClients(_ context.Context) ([]*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedClients(), nil
}

func (s *InMemory) ListDomainsByClient(_ context.Context, clientID id.ClientID) ([]*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Domain, 0, len(s.byClient[clientID]))
	for name := range s.byClient[clientID] {
		d := *s.domains[name]
		out = append(out, &d)
	}
	sortDomains(out)
	return out, nil
}

func (s *InMemory) Snapshot(_ context.Context) ([]*models.Client, []*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domains := make([]*models.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		cp := *d
		domains = append(domains, &cp)
	}
	sortDomains(domains)
	return s.sortedClients(), domains, nil
}

func (s *InMemory) Ping(context.Context) error {
	return nil
}

func (s *InMemory) sortedClients() []*models.Client {
	out := make([]*models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortDomains(ds []*models.Domain) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}

// memoryTx reads through its overlay to the committed maps. A nil entry in
// the domains overlay marks a deletion.
type memoryTx struct {
	store   *InMemory
	clients map[id.ClientID]*models.Client
	domains map[string]*models.Domain
}

func (t *memoryTx) client(clientID id.ClientID) (*models.Client, bool) {
	if c, ok := t.clients[clientID]; ok {
		return c, true
	}
	c, ok := t.store.clients[clientID]
	return c, ok
}

func (t *memoryTx) domain(name string) (*models.Domain, bool) {
	if d, ok := t.domains[name]; ok {
		return d, d != nil
	}
	d, ok := t.store.domains[name]
	return d, ok
}

func (t *memoryTx) FindClient(_ context.Context, clientID id.ClientID) (*models.Client, error) {
	c, ok := t.client(clientID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (t *memoryTx) CreateClient(_ context.Context, client *models.Client) error {
	if _, ok := t.client(client.ID); ok {
		return sentinel.ErrAlreadyUsed
	}
	t.clients[client.ID] = client.Clone()
	return nil
}

func (t *memoryTx) UpdateClient(_ context.Context, client *models.Client, expectedVersion int64) error {
	current, ok := t.client(client.ID)
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrVersionMismatch
	}
	t.clients[client.ID] = client.Clone()
	return nil
}

func (t *memoryTx) FindDomain(_ context.Context, name string) (*models.Domain, error) {
	d, ok := t.domain(name)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *memoryTx) ListDomainsByClient(_ context.Context, clientID id.ClientID) ([]*models.Domain, error) {
	names := make(map[string]struct{})
	for name := range t.store.byClient[clientID] {
		names[name] = struct{}{}
	}
	for name, d := range t.domains {
		if d != nil && d.ClientID == clientID {
			names[name] = struct{}{}
		}
	}
	out := make([]*models.Domain, 0, len(names))
	for name := range names {
		if d, ok := t.domain(name); ok && d.ClientID == clientID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortDomains(out)
	return out, nil
}

func (t *memoryTx) InsertDomain(_ context.Context, domain *models.Domain) error {
	if _, ok := t.domain(domain.Name); ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *domain
	t.domains[domain.Name] = &cp
	return nil
}

func (t *memoryTx) SetPrimary(_ context.Context, name string, primary bool) error {
	d, ok := t.domain(name)
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *d
	cp.IsPrimary = primary
	t.domains[name] = &cp
	return nil
}

func (t *memoryTx) ClearPrimary(ctx context.Context, clientID id.ClientID) error {
	domains, err := t.ListDomainsByClient(ctx, clientID)
	if err != nil {
		return err
	}
	for _, d := range domains {
		if d.IsPrimary {
			if err := t.SetPrimary(ctx, d.Name, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memoryTx) DeleteDomain(_ context.Context, name string) error {
	if _, ok := t.domain(name); !ok {
		return sentinel.ErrNotFound
	}
	t.domains[name] = nil
	return nil
}

func (t *memoryTx) commit() {
	s := t.store
	for clientID, c := range t.clients {
		s.clients[clientID] = c
	}
	for name, d := range t.domains {
		if prev, ok := s.domains[name]; ok {
			delete(s.byClient[prev.ClientID], name)
		}
		if d == nil {
			delete(s.domains, name)
			continue
		}
		s.domains[name] = d
		owned, ok := s.byClient[d.ClientID]
		if !ok {
			owned = make(map[string]struct{})
			s.byClient[d.ClientID] = owned
		}
		owned[name] = struct{}{}
	}
}
