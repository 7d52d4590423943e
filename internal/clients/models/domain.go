package models

import (
	"strings"
	"time"

	"golang.org/x/net/idna"

	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
)

const (
	MaxDomainLength = 253
	MaxLabelLength  = 63
	MinDomainLabels = 2
	MaxDomainLabels = 5
)

// Domain records that a hostname is authorized to collect for one client.
//
// Invariants:
//   - Name is normalized (see NormalizeDomain) and globally unique
//   - at most one domain per client has IsPrimary set
type Domain struct {
	Name      string      `json:"domain"`
	ClientID  id.ClientID `json:"client_id"`
	IsPrimary bool        `json:"is_primary"`
	CreatedAt time.Time   `json:"created_at"`
}

// DomainIndexEntry is the derived lookup record for one authorized domain.
type DomainIndexEntry struct {
	Domain       string       `json:"domain"`
	ClientID     id.ClientID  `json:"client_id"`
	IsPrimary    bool         `json:"is_primary"`
	PrivacyLevel PrivacyLevel `json:"privacy_level"`
}

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
)

// NormalizeDomain trims, lowercases and converts raw to its ASCII form.
// It rejects anything that is not a bare hostname: schemes, paths, queries,
// ports, userinfo, bad characters and excessive depth.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalidDomain("domain is required")
	}
	if strings.Contains(s, "://") {
		return "", invalidDomain("domain must not contain a scheme")
	}
	if strings.ContainsAny(s, "/?#") {
		return "", invalidDomain("domain must not contain a path or query")
	}
	if strings.ContainsAny(s, ":@") {
		return "", invalidDomain("domain must not contain a port or userinfo")
	}
	s = strings.TrimSuffix(strings.ToLower(s), ".")

	ascii, err := idnaProfile.ToASCII(s)
	if err != nil {
		return "", invalidDomain("domain contains disallowed characters")
	}
	if len(ascii) > MaxDomainLength {
		return "", invalidDomain("domain is too long")
	}

	labels := strings.Split(ascii, ".")
	if len(labels) < MinDomainLabels {
		return "", invalidDomain("domain must have at least two labels")
	}
	if len(labels) > MaxDomainLabels {
		return "", invalidDomain("domain has too many subdomain levels")
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return "", err
		}
	}
	return ascii, nil
}

func validateLabel(label string) error {
	if label == "" || len(label) > MaxLabelLength {
		return invalidDomain("domain label length is invalid")
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return invalidDomain("domain label must not start or end with a hyphen")
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return invalidDomain("domain contains disallowed characters")
	}
	return nil
}

func invalidDomain(msg string) error {
	return dErrors.New(dErrors.CodeValidation, msg)
}
