package models

import (
	"time"

	dErrors "trackgate/pkg/domain-errors"
)

// EndpointClass groups endpoints that share one (limit, window) pair.
type EndpointClass string

const (
	// ClassAdmin: administrative registry and audit endpoints.
	ClassAdmin EndpointClass = "admin"
	// ClassConfigLookup: public configuration lookups from tracking relays.
	ClassConfigLookup EndpointClass = "config_lookup"
	// ClassPixel: pixel script rendering for end-user browsers.
	ClassPixel EndpointClass = "pixel"
)

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAdmin, ClassConfigLookup, ClassPixel:
		return true
	}
	return false
}

// Classes lists every endpoint class.
func Classes() []EndpointClass {
	return []EndpointClass{ClassAdmin, ClassConfigLookup, ClassPixel}
}

// Limit is the number of requests admitted per window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Validate rejects limits that would never admit a request.
func (l Limit) Validate() error {
	if l.RequestsPerWindow <= 0 {
		return dErrors.New(dErrors.CodeValidation, "requests per window must be positive")
	}
	if l.Window <= 0 {
		return dErrors.New(dErrors.CodeValidation, "window must be positive")
	}
	return nil
}

// Result is the outcome of one admission check. Denial is a normal result,
// not an error.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"` // only set when not allowed
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (r *Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
