package service

import (
	"context"
	"time"

	"trackgate/internal/clients/models"
	"trackgate/internal/resolver"
	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/requestcontext"
)

// errConfigNotFound is the single answer for every lookup miss. Unknown,
// malformed, deactivated and orphaned all look the same to the caller.
var errConfigNotFound = dErrors.New(dErrors.CodeNotFound, "configuration not found")

// LookupDomain resolves the configuration for a domain from the index only.
// The salt is returned only to trusted relays.
func (s *Service) LookupDomain(ctx context.Context, rawDomain string) (resolver.View, error) {
	start := time.Now()
	name, err := models.NormalizeDomain(rawDomain)
	if err != nil {
		s.observeLookup(start, false)
		return resolver.View{}, errConfigNotFound
	}
	_, policy, ok := s.index.Lookup(name)
	if !ok {
		s.observeLookup(start, false)
		return resolver.View{}, errConfigNotFound
	}
	s.observeLookup(start, true)
	return present(ctx, *policy), nil
}

// LookupClient resolves the configuration for an active client from the index.
func (s *Service) LookupClient(ctx context.Context, rawID string) (resolver.View, error) {
	start := time.Now()
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		s.observeLookup(start, false)
		return resolver.View{}, errConfigNotFound
	}
	policy, ok := s.index.Policy(clientID)
	if !ok {
		s.observeLookup(start, false)
		return resolver.View{}, errConfigNotFound
	}
	s.observeLookup(start, true)
	return present(ctx, *policy), nil
}

func present(ctx context.Context, policy models.Policy) resolver.View {
	view := resolver.ResolvePolicy(policy)
	if !requestcontext.RelayTrusted(ctx) {
		view = view.WithoutSalt()
	}
	return view
}

// RebuildIndex reloads the domain index from the store.
func (s *Service) RebuildIndex(ctx context.Context) error {
	err := s.index.Rebuild(ctx)
	if s.metrics != nil {
		s.metrics.IncrementIndexRebuild(err == nil)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "domain index rebuild failed", "error", err)
		return err
	}
	return nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) observeLookup(start time.Time, hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveLookup(start, hit)
	}
}
