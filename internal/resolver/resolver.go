// Package resolver derives the public configuration view from a client's
// stored policy. Resolution is a pure function of its input.
package resolver

import (
	"trackgate/internal/clients/models"
)

const (
	ConsentBlock = "block"
	ConsentAllow = "allow"
)

// View is the client-facing configuration a relay uses to decide what to collect.
type View struct {
	ClientID     string          `json:"client_id"`
	PrivacyLevel string          `json:"privacy_level"`
	IPCollection IPCollection    `json:"ip_collection"`
	Consent      Consent         `json:"consent"`
	Features     map[string]bool `json:"features"`
	Deployment   Deployment      `json:"deployment"`
}

type IPCollection struct {
	Enabled      bool    `json:"enabled"`
	HashRequired bool    `json:"hash_required"`
	Salt         *string `json:"salt"`
}

type Consent struct {
	Required        bool   `json:"required"`
	DefaultBehavior string `json:"default_behavior"`
}

type Deployment struct {
	Type     string  `json:"type"`
	Hostname *string `json:"hostname"`
}

// restricted lists the features each level forces off regardless of client settings.
var restricted = map[models.PrivacyLevel][]string{
	models.PrivacyGDPR: {
		models.FeatureFingerprinting,
		models.FeatureCrossDomain,
		models.FeatureSessionReplay,
	},
	models.PrivacyHIPAA: {
		models.FeatureFingerprinting,
		models.FeatureCrossDomain,
		models.FeatureSessionReplay,
		models.FeatureForms,
		models.FeatureHeatmaps,
	},
}

// Restricted returns the features forced off at level.
func Restricted(level models.PrivacyLevel) []string {
	return append([]string(nil), restricted[level]...)
}

// Resolve derives the configuration view for a client.
func Resolve(c *models.Client) View {
	return ResolvePolicy(c.Policy())
}

// ResolvePolicy derives the configuration view from a policy snapshot.
func ResolvePolicy(p models.Policy) View {
	regulated := p.PrivacyLevel != models.PrivacyStandard

	view := View{
		ClientID:     p.ClientID.String(),
		PrivacyLevel: string(p.PrivacyLevel),
		IPCollection: IPCollection{
			Enabled:      p.IPCollectionEnabled && !regulated,
			HashRequired: regulated,
		},
		Consent: Consent{
			Required:        regulated,
			DefaultBehavior: ConsentAllow,
		},
		Features: make(map[string]bool, len(p.Features)),
		Deployment: Deployment{
			Type: string(p.DeploymentType),
		},
	}
	if regulated {
		view.Consent.DefaultBehavior = ConsentBlock
		if p.IPSalt != "" {
			salt := p.IPSalt
			view.IPCollection.Salt = &salt
		}
	}
	for k, v := range p.Features {
		view.Features[k] = v
	}
	for _, k := range restricted[p.PrivacyLevel] {
		view.Features[k] = false
	}
	if p.VMHostname != "" {
		host := p.VMHostname
		view.Deployment.Hostname = &host
	}
	return view
}

// WithoutSalt returns a copy of v safe to hand to untrusted callers.
func (v View) WithoutSalt() View {
	v.IPCollection.Salt = nil
	return v
}
