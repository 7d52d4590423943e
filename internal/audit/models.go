package audit

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	id "trackgate/pkg/domain"
)

// Action names the logical mutation a change records.
type Action string

const (
	ActionClientCreated      Action = "client_created"
	ActionClientUpdated      Action = "client_updated"
	ActionClientDeactivated  Action = "client_deactivated"
	ActionClientReactivated  Action = "client_reactivated"
	ActionDomainAuthorized   Action = "domain_authorized"
	ActionDomainUpdated      Action = "domain_updated"
	ActionDomainDeauthorized Action = "domain_deauthorized"
)

// ConfigurationChange is one immutable audit record. Exactly one is written per
// logical mutation, however many rows that mutation touches.
type ConfigurationChange struct {
	ID          string         `json:"id"`
	ClientID    id.ClientID    `json:"client_id"`
	ChangedBy   string         `json:"changed_by"`
	Action      Action         `json:"action"`
	Description string         `json:"description"`
	OldConfig   map[string]any `json:"old_config"`
	NewConfig   map[string]any `json:"new_config"`
	Timestamp   time.Time      `json:"timestamp"`
	RequestID   string         `json:"request_id,omitempty"`
}

// NewChangeID returns a time-sortable identifier for a change recorded at t.
func NewChangeID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

//go:generate mockgen -source=models.go -destination=mocks/audit-mocks.go -package=mocks Store

// Store persists configuration changes. Append must join the caller's
// transaction when one is present in ctx.
type Store interface {
	Append(ctx context.Context, change ConfigurationChange) error
	ListByClient(ctx context.Context, clientID id.ClientID) ([]ConfigurationChange, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]ConfigurationChange, error)
}
