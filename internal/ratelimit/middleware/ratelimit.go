package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"trackgate/internal/ratelimit/models"
	"trackgate/pkg/platform/httputil"
	"trackgate/pkg/requestcontext"
)

// overloadRetrySeconds is advertised when the global throttle rejects a request.
const overloadRetrySeconds = 1

type RateLimiter interface {
	Admit(ctx context.Context, identity string, class models.EndpointClass) (*models.Result, error)
}

type Throttle interface {
	Allow(class models.EndpointClass) bool
}

// ThrottleObserver is notified when the global throttle rejects a request.
type ThrottleObserver interface {
	IncrementThrottled(class models.EndpointClass)
}

type Middleware struct {
	limiter  RateLimiter
	throttle Throttle
	observer ThrottleObserver
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for local development).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithThrottle(t Throttle) Option {
	return func(m *Middleware) {
		m.throttle = t
	}
}

func WithThrottleObserver(o ThrottleObserver) Option {
	return func(m *Middleware) {
		m.observer = o
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit admits requests per client IP for class. Limiter failures let the
// request through; the store already degrades to local buckets on outages.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Admit(ctx, ip, class)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err, "endpoint_class", class)
				next.ServeHTTP(w, r)
				return
			}

			// Add headers regardless of outcome
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GlobalThrottle rejects requests once class exceeds its process-wide rate.
func (m *Middleware) GlobalThrottle(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.throttle == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !m.throttle.Allow(class) {
				if m.observer != nil {
					m.observer.IncrementThrottled(class)
				}
				writeServiceOverloaded(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	retryAfter := result.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: retryAfter,
	})
}

func writeServiceOverloaded(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(overloadRetrySeconds))
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.ServiceOverloadedResponse{
		Error:      "service_unavailable",
		Message:    "Service is temporarily overloaded. Please try again later.",
		RetryAfter: overloadRetrySeconds,
	})
}
