package models

import (
	"time"

	dErrors "trackgate/pkg/domain-errors"
)

// Config holds per-class limits and the process-wide throttle.
type Config struct {
	Limits map[EndpointClass]Limit
	// GlobalRPS is the sustained rate each class may consume across all callers
	// of this process. Zero disables the global throttle.
	GlobalRPS float64
}

// DefaultConfig returns the production defaults. Relay lookup traffic is
// expected to run far above administrative traffic.
func DefaultConfig() *Config {
	return &Config{
		Limits: map[EndpointClass]Limit{
			ClassAdmin:        {RequestsPerWindow: 60, Window: time.Minute},
			ClassConfigLookup: {RequestsPerWindow: 6000, Window: time.Minute},
			ClassPixel:        {RequestsPerWindow: 1200, Window: time.Minute},
		},
		GlobalRPS: 2000,
	}
}

// LimitFor returns the limit configured for class.
func (c *Config) LimitFor(class EndpointClass) (Limit, bool) {
	l, ok := c.Limits[class]
	return l, ok
}

// Validate checks every configured limit.
func (c *Config) Validate() error {
	for class, l := range c.Limits {
		if !class.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown endpoint class: "+string(class))
		}
		if err := l.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid limit for "+string(class))
		}
	}
	if c.GlobalRPS < 0 {
		return dErrors.New(dErrors.CodeValidation, "global throttle rate cannot be negative")
	}
	return nil
}
