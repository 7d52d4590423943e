// Package domainindex holds the derived domain -> client lookup table served on
// the public hot path.
//
// Reads are lock-free: entries and policy snapshots live in sync.Maps and are
// replaced by pointer, never mutated. Writers serialize on a single mutex that
// is held across the backing store transaction, so the order in which deltas
// are applied always matches the order in which the store committed them.
package domainindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"trackgate/internal/clients/models"
	id "trackgate/pkg/domain"
)

// Entry is an immutable index record for one authorized domain.
type Entry struct {
	Domain    string
	ClientID  id.ClientID
	IsPrimary bool
}

// Delta is the set of index changes produced by one committed mutation.
type Delta struct {
	Policies      []models.Policy
	Domains       []models.Domain
	DeleteDomains []string
}

// Loader reads the full authoritative state used to rebuild the index.
type Loader interface {
	Snapshot(ctx context.Context) ([]*models.Client, []*models.Domain, error)
}

// Index maps normalized domains to their owning client's policy.
type Index struct {
	domains  sync.Map // string -> *Entry
	policies sync.Map // id.ClientID -> *models.Policy
	size     atomic.Int64

	mu     sync.Mutex
	group  singleflight.Group
	loader Loader
	logger *slog.Logger
}

type Option func(*Index)

func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

func WithLoader(loader Loader) Option {
	return func(ix *Index) {
		ix.loader = loader
	}
}

func New(opts ...Option) *Index {
	ix := &Index{logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Commit runs fn while holding the writer lock and applies the returned delta
// only if fn succeeds. fn is expected to commit the backing store transaction
// before returning; if it fails nothing is applied.
func (ix *Index) Commit(fn func() (Delta, error)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delta, err := fn()
	if err != nil {
		return err
	}
	ix.apply(delta)
	return nil
}

// apply publishes policies before domains so a reader that finds a new domain
// always finds its policy too.
func (ix *Index) apply(d Delta) {
	for i := range d.Policies {
		p := d.Policies[i]
		p.Features = p.Features.Clone()
		ix.policies.Store(p.ClientID, &p)
	}
	for _, dom := range d.Domains {
		entry := &Entry{Domain: dom.Name, ClientID: dom.ClientID, IsPrimary: dom.IsPrimary}
		if _, loaded := ix.domains.Swap(dom.Name, entry); !loaded {
			ix.size.Add(1)
		}
	}
	for _, name := range d.DeleteDomains {
		if _, loaded := ix.domains.LoadAndDelete(name); loaded {
			ix.size.Add(-1)
		}
	}
}

// Lookup resolves an already-normalized domain to its entry and policy.
// It reports false for unknown domains, missing policies and inactive clients
// alike.
func (ix *Index) Lookup(domain string) (*Entry, *models.Policy, bool) {
	v, ok := ix.domains.Load(domain)
	if !ok {
		return nil, nil, false
	}
	entry := v.(*Entry)
	policy, ok := ix.Policy(entry.ClientID)
	if !ok {
		return nil, nil, false
	}
	return entry, policy, true
}

// Policy returns the published policy for an active client.
func (ix *Index) Policy(clientID id.ClientID) (*models.Policy, bool) {
	v, ok := ix.policies.Load(clientID)
	if !ok {
		return nil, false
	}
	policy := v.(*models.Policy)
	if !policy.IsActive {
		return nil, false
	}
	return policy, true
}

// Entry returns the raw entry for domain regardless of client state.
func (ix *Index) Entry(domain string) (*Entry, bool) {
	v, ok := ix.domains.Load(domain)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Len is the number of indexed domains.
func (ix *Index) Len() int {
	return int(ix.size.Load())
}

// Rebuild reloads the whole index from the loader. Concurrent callers share a
// single load. Entries absent from the snapshot are removed.
func (ix *Index) Rebuild(ctx context.Context) error {
	if ix.loader == nil {
		return fmt.Errorf("domain index has no loader")
	}
	_, err, _ := ix.group.Do("rebuild", func() (any, error) {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		clients, domains, err := ix.loader.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		ix.replace(clients, domains)
		ix.logger.Debug("domain index rebuilt", "domains", len(domains), "clients", len(clients))
		return nil, nil
	})
	return err
}

func (ix *Index) replace(clients []*models.Client, domains []*models.Domain) {
	delta := Delta{
		Policies: make([]models.Policy, 0, len(clients)),
		Domains:  make([]models.Domain, 0, len(domains)),
	}
	liveClients := make(map[id.ClientID]struct{}, len(clients))
	for _, c := range clients {
		delta.Policies = append(delta.Policies, c.Policy())
		liveClients[c.ID] = struct{}{}
	}
	liveDomains := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		delta.Domains = append(delta.Domains, *d)
		liveDomains[d.Name] = struct{}{}
	}
	ix.domains.Range(func(k, _ any) bool {
		if _, ok := liveDomains[k.(string)]; !ok {
			delta.DeleteDomains = append(delta.DeleteDomains, k.(string))
		}
		return true
	})
	ix.apply(delta)

	// Stale policies are dropped only after their domains are gone.
	ix.policies.Range(func(k, _ any) bool {
		if _, ok := liveClients[k.(id.ClientID)]; !ok {
			ix.policies.Delete(k)
		}
		return true
	})
}
