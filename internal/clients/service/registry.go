package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trackgate/internal/audit"
	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	"trackgate/internal/domainindex"
	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/sentinel"
	"trackgate/pkg/requestcontext"
)

const clientNotFound = "client not found"

// CreateClient registers a client. Regulated privacy levels get a fresh IP
// salt. Id collisions are retried with a new id.
func (s *Service) CreateClient(ctx context.Context, req *models.CreateClientRequest) (*models.Client, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if req.Owner == "" {
		req.Owner = s.defaultOwner
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		client, err := models.NewClient(s.newID(), req, s.genSalt, now)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
			}
			return nil, err
		}

		err = s.mutate(ctx, "create_client", client.ID, func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error) {
			if err := tx.CreateClient(ctx, client); err != nil {
				return domainindex.Delta{}, err
			}
			delta := domainindex.Delta{Policies: []models.Policy{client.Policy()}}
			return delta, s.record(ctx, audit.ActionClientCreated, client.ID,
				fmt.Sprintf("client %q created", client.Name), nil, client.AuditSnapshot())
		})
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.WarnContext(ctx, "client id collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, translate(err, clientNotFound)
		}

		s.logAudit(ctx, string(audit.ActionClientCreated),
			"client_id", client.ID,
			"privacy_level", client.PrivacyLevel)
		if s.metrics != nil {
			s.metrics.IncrementClientCreated()
		}
		return client, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "could not allocate a unique client id")
}

// GetClient returns a client regardless of its active state.
func (s *Service) GetClient(ctx context.Context, rawID string) (*models.Client, error) {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	client, err := s.store.FindClient(ctx, clientID)
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	return client, nil
}

// ListClients returns every client, oldest first.
func (s *Service) ListClients(ctx context.Context) ([]*models.Client, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	return clients, nil
}

// UpdateClient applies a merge-patch to a client.
//
// The write is conditional on the version the caller last saw (req.Version)
// or, when absent, the version read inside the transaction. A patch that
// changes nothing is a no-op and is not audited.
func (s *Service) UpdateClient(ctx context.Context, rawID string, req *models.UpdateClientRequest) (*models.Client, error) {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var updated *models.Client
	var changed []string
	err = s.mutate(ctx, "update_client", clientID, func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error) {
		current, err := tx.FindClient(ctx, clientID)
		if err != nil {
			return domainindex.Delta{}, err
		}
		if req.Version != 0 && req.Version != current.Version {
			return domainindex.Delta{}, sentinel.ErrVersionMismatch
		}

		next := current.Clone()
		if err := req.ApplyTo(next); err != nil {
			return domainindex.Delta{}, err
		}
		if err := next.RecomputeDerived(s.genSalt); err != nil {
			return domainindex.Delta{}, err
		}

		before, after := current.AuditSnapshot(), next.AuditSnapshot()
		changed = models.ChangedFields(before, after)
		if len(changed) == 0 {
			updated = current
			return domainindex.Delta{}, nil
		}

		next.Version = current.Version + 1
		next.UpdatedAt = requestcontext.Now(ctx)
		if err := tx.UpdateClient(ctx, next, current.Version); err != nil {
			return domainindex.Delta{}, err
		}
		updated = next
		after["version"] = next.Version
		delta := domainindex.Delta{Policies: []models.Policy{next.Policy()}}
		return delta, s.record(ctx, audit.ActionClientUpdated, clientID,
			"updated "+strings.Join(changed, ", "), before, after)
	})
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	if len(changed) > 0 {
		s.logAudit(ctx, string(audit.ActionClientUpdated),
			"client_id", clientID,
			"fields", changed)
	}
	return updated, nil
}

// DeactivateClient stops all lookups for the client's domains. Domain records
// are kept. Deactivating an inactive client is a no-op.
func (s *Service) DeactivateClient(ctx context.Context, rawID string) (*models.Client, error) {
	return s.setActive(ctx, rawID, false)
}

// ReactivateClient restores lookups for the client's domains.
func (s *Service) ReactivateClient(ctx context.Context, rawID string) (*models.Client, error) {
	return s.setActive(ctx, rawID, true)
}

func (s *Service) setActive(ctx context.Context, rawID string, active bool) (*models.Client, error) {
	clientID, err := id.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	operation, action := "deactivate_client", audit.ActionClientDeactivated
	if active {
		operation, action = "reactivate_client", audit.ActionClientReactivated
	}

	var result *models.Client
	applied := false
	err = s.mutate(ctx, operation, clientID, func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error) {
		current, err := tx.FindClient(ctx, clientID)
		if err != nil {
			return domainindex.Delta{}, err
		}
		check := current.CanDeactivate
		if active {
			check = current.CanReactivate
		}
		if check() != nil {
			result = current
			return domainindex.Delta{}, nil
		}

		next := current.Clone()
		next.IsActive = active
		next.Version = current.Version + 1
		next.UpdatedAt = requestcontext.Now(ctx)
		if err := tx.UpdateClient(ctx, next, current.Version); err != nil {
			return domainindex.Delta{}, err
		}
		result, applied = next, true
		delta := domainindex.Delta{Policies: []models.Policy{next.Policy()}}
		return delta, s.record(ctx, action, clientID, string(action),
			current.AuditSnapshot(), next.AuditSnapshot())
	})
	if err != nil {
		return nil, translate(err, clientNotFound)
	}
	if applied {
		s.logAudit(ctx, string(action), "client_id", clientID)
	}
	return result, nil
}
