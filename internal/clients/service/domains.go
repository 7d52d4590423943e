package service

import (
	"context"
	"errors"
	"fmt"

	"trackgate/internal/audit"
	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	"trackgate/internal/domainindex"
	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/sentinel"
	"trackgate/pkg/requestcontext"
)

const domainNotFound = "domain not found"

// AuthorizeDomain grants a hostname to a client.
//
// A domain owned by another client is a conflict and ownership is left alone.
// Repeating an identical call returns the existing entry without a new audit
// record. Setting is_primary clears any other primary domain of the client in
// the same transaction.
func (s *Service) AuthorizeDomain(ctx context.Context, rawID string, req *models.AuthorizeDomainRequest) (*models.DomainIndexEntry, error) {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	name, err := models.NormalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}

	var entry *models.DomainIndexEntry
	var action audit.Action
	err = s.mutate(ctx, "authorize_domain", clientID, func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error) {
		client, err := tx.FindClient(ctx, clientID)
		if err != nil {
			return domainindex.Delta{}, err
		}

		existing, err := tx.FindDomain(ctx, name)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			existing = nil
		case err != nil:
			return domainindex.Delta{}, err
		case existing.ClientID != clientID:
			return domainindex.Delta{}, dErrors.New(dErrors.CodeConflict, "domain is already authorized for another client")
		case existing.IsPrimary == req.IsPrimary:
			entry = indexEntry(existing, client)
			return domainindex.Delta{}, nil
		}

		delta := domainindex.Delta{Policies: []models.Policy{client.Policy()}}
		var demoted []string
		if req.IsPrimary {
			owned, err := tx.ListDomainsByClient(ctx, clientID)
			if err != nil {
				return domainindex.Delta{}, err
			}
			for _, d := range owned {
				if d.IsPrimary && d.Name != name {
					demoted = append(demoted, d.Name)
					d.IsPrimary = false
					delta.Domains = append(delta.Domains, *d)
				}
			}
			if err := tx.ClearPrimary(ctx, clientID); err != nil {
				return domainindex.Delta{}, err
			}
		}

		var before map[string]any
		domain := &models.Domain{Name: name, ClientID: clientID, IsPrimary: req.IsPrimary}
		if existing == nil {
			action = audit.ActionDomainAuthorized
			domain.CreatedAt = requestcontext.Now(ctx)
			if err := tx.InsertDomain(ctx, domain); err != nil {
				if errors.Is(err, sentinel.ErrAlreadyUsed) {
					return domainindex.Delta{}, dErrors.New(dErrors.CodeConflict, "domain is already authorized for another client")
				}
				return domainindex.Delta{}, err
			}
		} else {
			action = audit.ActionDomainUpdated
			domain.CreatedAt = existing.CreatedAt
			before = domainSnapshot(existing, nil)
			if err := tx.SetPrimary(ctx, name, req.IsPrimary); err != nil {
				return domainindex.Delta{}, err
			}
		}

		delta.Domains = append(delta.Domains, *domain)
		entry = indexEntry(domain, client)
		return delta, s.record(ctx, action, clientID, describeAuthorize(action, name, req.IsPrimary, demoted),
			before, domainSnapshot(domain, demoted))
	})
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	if action != "" {
		s.logAudit(ctx, string(action),
			"client_id", clientID,
			"domain", name,
			"is_primary", req.IsPrimary)
	}
	return entry, nil
}

// DeauthorizeDomain removes a domain and its index entry. No other domain is
// promoted to primary.
func (s *Service) DeauthorizeDomain(ctx context.Context, rawID, rawDomain string) error {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return err
	}
	name, err := models.NormalizeDomain(rawDomain)
	if err != nil {
		return err
	}

	err = s.mutate(ctx, "deauthorize_domain", clientID, func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error) {
		existing, err := tx.FindDomain(ctx, name)
		if err != nil {
			return domainindex.Delta{}, err
		}
		if existing.ClientID != clientID {
			return domainindex.Delta{}, dErrors.New(dErrors.CodeNotFound, domainNotFound)
		}
		if err := tx.DeleteDomain(ctx, name); err != nil {
			return domainindex.Delta{}, err
		}
		delta := domainindex.Delta{DeleteDomains: []string{name}}
		return delta, s.record(ctx, audit.ActionDomainDeauthorized, clientID,
			fmt.Sprintf("domain %s deauthorized", name), domainSnapshot(existing, nil), nil)
	})
	if err != nil {
		return translate(err, domainNotFound)
	}
	s.logAudit(ctx, string(audit.ActionDomainDeauthorized),
		"client_id", clientID,
		"domain", name)
	return nil
}

// ListDomains returns the domains authorized for a client.
func (s *Service) ListDomains(ctx context.Context, rawID string) ([]*models.Domain, error) {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindClient(ctx, clientID); err != nil {
		return nil, translate(err, clientNotFound)
	}
	domains, err := s.store.ListDomainsByClient(ctx, clientID)
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	return domains, nil
}

// GetDomain returns one domain owned by the client. A domain owned by another
// client is reported as not found.
func (s *Service) GetDomain(ctx context.Context, rawID, rawDomain string) (*models.Domain, error) {
	name, err := models.NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	domains, err := s.ListDomains(ctx, rawID)
	if err != nil {
		return nil, err
	}
	for _, d := range domains {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, domainNotFound)
}

func indexEntry(d *models.Domain, c *models.Client) *models.DomainIndexEntry {
	return &models.DomainIndexEntry{
		Domain:       d.Name,
		ClientID:     d.ClientID,
		IsPrimary:    d.IsPrimary,
		PrivacyLevel: c.PrivacyLevel,
	}
}

func domainSnapshot(d *models.Domain, demoted []string) map[string]any {
	snap := map[string]any{
		"domain":     d.Name,
		"client_id":  d.ClientID.String(),
		"is_primary": d.IsPrimary,
	}
	if len(demoted) > 0 {
		snap["demoted_primary"] = demoted
	}
	return snap
}

func describeAuthorize(action audit.Action, name string, primary bool, demoted []string) string {
	desc := fmt.Sprintf("domain %s authorized", name)
	if action == audit.ActionDomainUpdated {
		desc = fmt.Sprintf("domain %s primary flag set to %t", name, primary)
	} else if primary {
		desc += " as primary"
	}
	if len(demoted) > 0 {
		desc += fmt.Sprintf(" (previous primary %v cleared)", demoted)
	}
	return desc
}
