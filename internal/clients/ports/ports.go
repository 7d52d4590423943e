// Package ports defines the persistence boundary of the client registry.
package ports

import (
	"context"

	"trackgate/internal/clients/models"
	id "trackgate/pkg/domain"
)

// Tx is the set of reads and writes available inside one registry transaction.
// Implementations return sentinel errors:
//   - sentinel.ErrNotFound for missing clients or domains
//   - sentinel.ErrAlreadyUsed for duplicate client ids or domain names
//   - sentinel.ErrVersionMismatch when a conditional client write lost a race
type Tx interface {
	FindClient(ctx context.Context, clientID id.ClientID) (*models.Client, error)
	CreateClient(ctx context.Context, client *models.Client) error
	// UpdateClient persists client only if the stored version equals expectedVersion.
	UpdateClient(ctx context.Context, client *models.Client, expectedVersion int64) error

	FindDomain(ctx context.Context, name string) (*models.Domain, error)
	ListDomainsByClient(ctx context.Context, clientID id.ClientID) ([]*models.Domain, error)
	InsertDomain(ctx context.Context, domain *models.Domain) error
	SetPrimary(ctx context.Context, name string, primary bool) error
	// ClearPrimary unsets the primary flag on every domain of clientID.
	ClearPrimary(ctx context.Context, clientID id.ClientID) error
	DeleteDomain(ctx context.Context, name string) error
}

// Store is the registry's source of truth.
type Store interface {
	// RunInTx executes fn atomically. The ctx passed to fn carries the
	// transaction so collaborators (the audit store) can join it.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindClient(ctx context.Context, clientID id.ClientID) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	ListDomainsByClient(ctx context.Context, clientID id.ClientID) ([]*models.Domain, error)

	// Snapshot returns every client and domain for index rebuilds.
	Snapshot(ctx context.Context) ([]*models.Client, []*models.Domain, error)
	Ping(ctx context.Context) error
}
