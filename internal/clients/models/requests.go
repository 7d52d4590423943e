package models

import (
	"fmt"
	"strings"

	dErrors "trackgate/pkg/domain-errors"
)

const (
	MaxNameLength     = 128
	MaxOwnerLength    = 256
	MaxHostnameLength = 253
)

// CreateClientRequest carries the attributes for a new client.
type CreateClientRequest struct {
	Name                string         `json:"name"`
	Owner               string         `json:"owner"`
	BillingEntity       string         `json:"billing_entity"`
	PrivacyLevel        PrivacyLevel   `json:"privacy_level"`
	DeploymentType      DeploymentType `json:"deployment_type"`
	VMHostname          string         `json:"vm_hostname"`
	IPCollectionEnabled bool           `json:"ip_collection_enabled"`
	Features            Features       `json:"features"`
	MonthlyEventLimit   int64          `json:"monthly_event_limit"`
	BillingRate         float64        `json:"billing_rate"`
}

// Normalize trims free text and lowercases enum values.
func (r *CreateClientRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Owner = strings.TrimSpace(r.Owner)
	r.BillingEntity = strings.TrimSpace(r.BillingEntity)
	r.PrivacyLevel = PrivacyLevel(strings.ToLower(strings.TrimSpace(string(r.PrivacyLevel))))
	r.DeploymentType = DeploymentType(strings.ToLower(strings.TrimSpace(string(r.DeploymentType))))
	r.VMHostname = strings.ToLower(strings.TrimSpace(r.VMHostname))
}

// Validate checks required fields and attribute bounds.
func (r *CreateClientRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.Owner == "" {
		return dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	if r.PrivacyLevel == "" {
		return dErrors.New(dErrors.CodeValidation, "privacy_level is required")
	}
	if r.DeploymentType == "" {
		return dErrors.New(dErrors.CodeValidation, "deployment_type is required")
	}
	return validateAttributes(attributes{
		name:              r.Name,
		owner:             r.Owner,
		privacyLevel:      r.PrivacyLevel,
		deploymentType:    r.DeploymentType,
		vmHostname:        r.VMHostname,
		features:          r.Features,
		monthlyEventLimit: r.MonthlyEventLimit,
		billingRate:       r.BillingRate,
	})
}

// UpdateClientRequest is a merge-patch over the mutable client fields.
// Nil fields are left untouched. Features are merged key by key.
type UpdateClientRequest struct {
	Name                *string         `json:"name,omitempty"`
	Owner               *string         `json:"owner,omitempty"`
	BillingEntity       *string         `json:"billing_entity,omitempty"`
	PrivacyLevel        *PrivacyLevel   `json:"privacy_level,omitempty"`
	DeploymentType      *DeploymentType `json:"deployment_type,omitempty"`
	VMHostname          *string         `json:"vm_hostname,omitempty"`
	IPCollectionEnabled *bool           `json:"ip_collection_enabled,omitempty"`
	Features            Features        `json:"features,omitempty"`
	MonthlyEventLimit   *int64          `json:"monthly_event_limit,omitempty"`
	BillingRate         *float64        `json:"billing_rate,omitempty"`

	// Version is the version the caller last read. Zero means "whatever is current".
	Version int64 `json:"version,omitempty"`
}

// IsEmpty reports whether the patch touches no field.
func (r *UpdateClientRequest) IsEmpty() bool {
	return r.Name == nil && r.Owner == nil && r.BillingEntity == nil &&
		r.PrivacyLevel == nil && r.DeploymentType == nil && r.VMHostname == nil &&
		r.IPCollectionEnabled == nil && r.Features == nil &&
		r.MonthlyEventLimit == nil && r.BillingRate == nil
}

// Normalize trims free text and lowercases enum values.
func (r *UpdateClientRequest) Normalize() {
	if r == nil {
		return
	}
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(r.Name)
	trim(r.Owner)
	trim(r.BillingEntity)
	if r.VMHostname != nil {
		*r.VMHostname = strings.ToLower(strings.TrimSpace(*r.VMHostname))
	}
	if r.PrivacyLevel != nil {
		*r.PrivacyLevel = PrivacyLevel(strings.ToLower(strings.TrimSpace(string(*r.PrivacyLevel))))
	}
	if r.DeploymentType != nil {
		*r.DeploymentType = DeploymentType(strings.ToLower(strings.TrimSpace(string(*r.DeploymentType))))
	}
}

// Validate checks the patch in isolation. Cross-field rules are checked by
// ApplyTo against the merged client.
func (r *UpdateClientRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be provided")
	}
	if r.Version < 0 {
		return dErrors.New(dErrors.CodeValidation, "version must be positive")
	}
	if r.Name != nil && *r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
	}
	if r.Owner != nil && *r.Owner == "" {
		return dErrors.New(dErrors.CodeValidation, "owner cannot be empty")
	}
	if r.Features != nil {
		return r.Features.Validate()
	}
	return nil
}

// ApplyTo merges the patch into c and re-validates the result. c is modified
// in place, so callers pass a clone.
func (r *UpdateClientRequest) ApplyTo(c *Client) error {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Owner != nil {
		c.Owner = *r.Owner
	}
	if r.BillingEntity != nil {
		c.BillingEntity = *r.BillingEntity
	}
	if r.PrivacyLevel != nil {
		next := *r.PrivacyLevel
		if !next.IsValid() {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid privacy_level %q", next))
		}
		if !c.PrivacyLevel.CanTransitionTo(next) {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("privacy_level cannot be relaxed from %s to %s", c.PrivacyLevel, next))
		}
		c.PrivacyLevel = next
	}
	if r.DeploymentType != nil {
		c.DeploymentType = *r.DeploymentType
	}
	if r.VMHostname != nil {
		c.VMHostname = *r.VMHostname
	}
	if r.IPCollectionEnabled != nil {
		c.IPCollectionEnabled = *r.IPCollectionEnabled
	}
	if r.Features != nil {
		c.Features = c.Features.Merge(r.Features)
	}
	if r.MonthlyEventLimit != nil {
		c.MonthlyEventLimit = *r.MonthlyEventLimit
	}
	if r.BillingRate != nil {
		c.BillingRate = *r.BillingRate
	}
	return validateAttributes(attributes{
		name:              c.Name,
		owner:             c.Owner,
		privacyLevel:      c.PrivacyLevel,
		deploymentType:    c.DeploymentType,
		vmHostname:        c.VMHostname,
		features:          c.Features,
		monthlyEventLimit: c.MonthlyEventLimit,
		billingRate:       c.BillingRate,
	})
}

// AuthorizeDomainRequest grants a hostname to a client.
type AuthorizeDomainRequest struct {
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
}

type attributes struct {
	name              string
	owner             string
	privacyLevel      PrivacyLevel
	deploymentType    DeploymentType
	vmHostname        string
	features          Features
	monthlyEventLimit int64
	billingRate       float64
}

func validateAttributes(a attributes) error {
	if len(a.name) > MaxNameLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if len(a.owner) > MaxOwnerLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("owner must be %d characters or less", MaxOwnerLength))
	}
	if !a.privacyLevel.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid privacy_level %q", a.privacyLevel))
	}
	if !a.deploymentType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid deployment_type %q", a.deploymentType))
	}
	if a.deploymentType == DeploymentDedicated && a.vmHostname == "" {
		return dErrors.New(dErrors.CodeValidation, "vm_hostname is required for dedicated deployments")
	}
	if len(a.vmHostname) > MaxHostnameLength || strings.ContainsAny(a.vmHostname, " /?#@") {
		return dErrors.New(dErrors.CodeValidation, "invalid vm_hostname")
	}
	if a.monthlyEventLimit < 0 {
		return dErrors.New(dErrors.CodeValidation, "monthly_event_limit must not be negative")
	}
	if a.billingRate < 0 {
		return dErrors.New(dErrors.CodeValidation, "billing_rate must not be negative")
	}
	return a.features.Validate()
}
