package models

import (
	"fmt"
	"maps"
	"strings"

	dErrors "trackgate/pkg/domain-errors"
)

// Known feature flags. Anything else must use the custom prefix.
const (
	FeaturePageViews      = "page_views"
	FeatureClicks         = "clicks"
	FeatureScrollDepth    = "scroll_depth"
	FeatureForms          = "forms"
	FeatureSessionReplay  = "session_replay"
	FeatureHeatmaps       = "heatmaps"
	FeatureCrossDomain    = "cross_domain"
	FeatureFingerprinting = "fingerprinting"

	CustomFeaturePrefix = "custom."
	MaxCustomFeatures   = 16
	MaxFeatureKeyLength = 64
)

var knownFeatures = map[string]struct{}{
	FeaturePageViews:      {},
	FeatureClicks:         {},
	FeatureScrollDepth:    {},
	FeatureForms:          {},
	FeatureSessionReplay:  {},
	FeatureHeatmaps:       {},
	FeatureCrossDomain:    {},
	FeatureFingerprinting: {},
}

// KnownFeatures returns the allow-listed flag names.
func KnownFeatures() []string {
	out := make([]string, 0, len(knownFeatures))
	for k := range knownFeatures {
		out = append(out, k)
	}
	return out
}

// Features is a bounded, allow-listed set of boolean flags.
type Features map[string]bool

// Clone returns an independent copy. A nil receiver yields an empty map.
func (f Features) Clone() Features {
	out := make(Features, len(f))
	maps.Copy(out, f)
	return out
}

// Validate rejects unknown keys and oversize custom sets.
func (f Features) Validate() error {
	custom := 0
	for key := range f {
		if _, ok := knownFeatures[key]; ok {
			continue
		}
		if !strings.HasPrefix(key, CustomFeaturePrefix) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown feature %q", key))
		}
		if err := validateCustomKey(key); err != nil {
			return err
		}
		custom++
	}
	if custom > MaxCustomFeatures {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d custom features allowed", MaxCustomFeatures))
	}
	return nil
}

func validateCustomKey(key string) error {
	name := strings.TrimPrefix(key, CustomFeaturePrefix)
	if name == "" || len(key) > MaxFeatureKeyLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid custom feature %q", key))
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid custom feature %q", key))
		}
	}
	return nil
}

// Merge applies a patch: true/false values overwrite, keys absent from the
// patch are kept.
func (f Features) Merge(patch Features) Features {
	out := f.Clone()
	maps.Copy(out, patch)
	return out
}
