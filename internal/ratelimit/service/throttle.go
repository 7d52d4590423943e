package service

import (
	"golang.org/x/time/rate"

	"trackgate/internal/ratelimit/models"
)

// GlobalThrottle caps the process-wide request rate of each endpoint class
// with its own token bucket, so a flood on one class cannot exhaust the
// capacity reserved for another.
type GlobalThrottle struct {
	limiters map[models.EndpointClass]*rate.Limiter
}

// NewGlobalThrottle creates a throttle admitting rps requests per second per
// class with a burst of one second's worth. rps <= 0 disables throttling.
func NewGlobalThrottle(rps float64) *GlobalThrottle {
	t := &GlobalThrottle{limiters: make(map[models.EndpointClass]*rate.Limiter)}
	if rps <= 0 {
		return t
	}
	burst := max(int(rps), 1)
	for _, class := range models.Classes() {
		t.limiters[class] = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

// Allow consumes one token for class.
func (t *GlobalThrottle) Allow(class models.EndpointClass) bool {
	l, ok := t.limiters[class]
	if !ok {
		return true
	}
	return l.Allow()
}
