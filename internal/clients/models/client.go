package models

import (
	"maps"
	"time"

	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
)

// PrivacyLevel is the policy tier governing IP handling, consent and features.
type PrivacyLevel string

const (
	PrivacyStandard PrivacyLevel = "standard"
	PrivacyGDPR     PrivacyLevel = "gdpr"
	PrivacyHIPAA    PrivacyLevel = "hipaa"
)

// IsValid checks if the privacy level is one of the supported values.
func (p PrivacyLevel) IsValid() bool {
	switch p {
	case PrivacyStandard, PrivacyGDPR, PrivacyHIPAA:
		return true
	}
	return false
}

// IsRegulated reports whether the level requires consent and IP hashing.
func (p PrivacyLevel) IsRegulated() bool {
	return p == PrivacyGDPR || p == PrivacyHIPAA
}

// rank orders levels by strictness.
func (p PrivacyLevel) rank() int {
	switch p {
	case PrivacyGDPR:
		return 1
	case PrivacyHIPAA:
		return 2
	default:
		return 0
	}
}

// CanTransitionTo reports whether moving to next keeps strictness monotonic.
// Privacy levels may only be tightened: standard -> gdpr -> hipaa.
func (p PrivacyLevel) CanTransitionTo(next PrivacyLevel) bool {
	return next.rank() >= p.rank()
}

// DeploymentType selects shared or dedicated collection infrastructure.
type DeploymentType string

const (
	DeploymentShared    DeploymentType = "shared"
	DeploymentDedicated DeploymentType = "dedicated"
)

// IsValid checks if the deployment type is one of the supported values.
func (d DeploymentType) IsValid() bool {
	return d == DeploymentShared || d == DeploymentDedicated
}

// Client is the aggregate root for a tracking client and its stored policy.
//
// Invariants:
//   - ID is immutable and never reused
//   - IPSalt is non-empty iff PrivacyLevel is regulated; once set it never changes
//   - ConsentRequired == PrivacyLevel.IsRegulated()
//   - PrivacyLevel only ever tightens
//   - Version increases by one on every committed write
//
// Clients are never deleted. IsActive=false is the only form of removal.
type Client struct {
	ID                  id.ClientID    `json:"client_id"`
	Name                string         `json:"name"`
	Owner               string         `json:"owner"`
	BillingEntity       string         `json:"billing_entity"`
	PrivacyLevel        PrivacyLevel   `json:"privacy_level"`
	DeploymentType      DeploymentType `json:"deployment_type"`
	VMHostname          string         `json:"vm_hostname,omitempty"`
	IPCollectionEnabled bool           `json:"ip_collection_enabled"`
	IPSalt              string         `json:"-"`
	ConsentRequired     bool           `json:"consent_required"`
	Features            Features       `json:"features"`
	MonthlyEventLimit   int64          `json:"monthly_event_limit"`
	BillingRate         float64        `json:"billing_rate"`
	IsActive            bool           `json:"is_active"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SaltGenerator produces a fresh high-entropy IP hashing salt.
type SaltGenerator func() (string, error)

// NewClient builds an active client from a validated request.
func NewClient(clientID id.ClientID, req *CreateClientRequest, genSalt SaltGenerator, now time.Time) (*Client, error) {
	if clientID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client_id cannot be empty")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		ID:                  clientID,
		Name:                req.Name,
		Owner:               req.Owner,
		BillingEntity:       req.BillingEntity,
		PrivacyLevel:        req.PrivacyLevel,
		DeploymentType:      req.DeploymentType,
		VMHostname:          req.VMHostname,
		IPCollectionEnabled: req.IPCollectionEnabled,
		Features:            req.Features.Clone(),
		MonthlyEventLimit:   req.MonthlyEventLimit,
		BillingRate:         req.BillingRate,
		IsActive:            true,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := c.RecomputeDerived(genSalt); err != nil {
		return nil, err
	}
	return c, nil
}

// RecomputeDerived restores the derived fields after any change to PrivacyLevel.
// The salt is generated on the first transition into a regulated level only.
func (c *Client) RecomputeDerived(genSalt SaltGenerator) error {
	c.ConsentRequired = c.PrivacyLevel.IsRegulated()
	if c.PrivacyLevel.IsRegulated() && c.IPSalt == "" {
		salt, err := genSalt()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate ip salt")
		}
		c.IPSalt = salt
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Features = c.Features.Clone()
	return &cp
}

// CanDeactivate checks the active -> inactive transition.
func (c *Client) CanDeactivate() error {
	if !c.IsActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "client is already inactive")
	}
	return nil
}

// CanReactivate checks the inactive -> active transition.
func (c *Client) CanReactivate() error {
	if c.IsActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "client is already active")
	}
	return nil
}

// Policy returns the immutable snapshot the public lookup path serves from.
func (c *Client) Policy() Policy {
	return Policy{
		ClientID:            c.ID,
		PrivacyLevel:        c.PrivacyLevel,
		DeploymentType:      c.DeploymentType,
		VMHostname:          c.VMHostname,
		IPCollectionEnabled: c.IPCollectionEnabled,
		IPSalt:              c.IPSalt,
		Features:            c.Features.Clone(),
		IsActive:            c.IsActive,
		Version:             c.Version,
	}
}

// AuditSnapshot is the record written to the audit trail. The salt itself is
// never copied into the audit log; only its presence is.
func (c *Client) AuditSnapshot() map[string]any {
	if c == nil {
		return nil
	}
	features := make(map[string]any, len(c.Features))
	for k, v := range c.Features {
		features[k] = v
	}
	return map[string]any{
		"client_id":             c.ID.String(),
		"name":                  c.Name,
		"owner":                 c.Owner,
		"billing_entity":        c.BillingEntity,
		"privacy_level":         string(c.PrivacyLevel),
		"deployment_type":       string(c.DeploymentType),
		"vm_hostname":           c.VMHostname,
		"ip_collection_enabled": c.IPCollectionEnabled,
		"ip_salt_set":           c.IPSalt != "",
		"consent_required":      c.ConsentRequired,
		"features":              features,
		"monthly_event_limit":   c.MonthlyEventLimit,
		"billing_rate":          c.BillingRate,
		"is_active":             c.IsActive,
		"version":               c.Version,
	}
}

// Policy is the minimal client state needed to resolve a configuration view.
// Values are treated as immutable once published to the domain index.
type Policy struct {
	ClientID            id.ClientID
	PrivacyLevel        PrivacyLevel
	DeploymentType      DeploymentType
	VMHostname          string
	IPCollectionEnabled bool
	IPSalt              string
	Features            Features
	IsActive            bool
	Version             int64
}

// ChangedFields lists the top-level audit keys that differ between two snapshots.
func ChangedFields(before, after map[string]any) []string {
	keys := []string{
		"name", "owner", "billing_entity", "privacy_level", "deployment_type",
		"vm_hostname", "ip_collection_enabled", "ip_salt_set", "consent_required",
		"features", "monthly_event_limit", "billing_rate", "is_active",
	}
	var changed []string
	for _, k := range keys {
		if !equalValue(before[k], after[k]) {
			changed = append(changed, k)
		}
	}
	return changed
}

func equalValue(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok || bok {
		return aok && bok && maps.Equal(am, bm)
	}
	return a == b
}
