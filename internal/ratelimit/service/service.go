// Package service admits or denies requests per caller identity and endpoint class.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"trackgate/internal/ratelimit/metrics"
	"trackgate/internal/ratelimit/models"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/requestcontext"
)

// missingLimitRetry is returned when a class has no configured limit.
const missingLimitRetry = 60 * time.Second

type Service struct {
	buckets BucketStore
	config  *models.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg *models.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(buckets BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}

	svc := &Service{
		buckets: buckets,
		config:  models.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if err := svc.config.Validate(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Admit counts one request from identity against class. A denied result is
// returned with a nil error.
func (s *Service) Admit(ctx context.Context, identity string, class models.EndpointClass) (*models.Result, error) {
	limit, ok := s.config.LimitFor(class)
	if !ok {
		// Default-deny: a class without a limit is a wiring mistake.
		s.logger.WarnContext(ctx, "rate limit config missing",
			"log_type", "audit",
			"endpoint_class", class,
			"identifier", anonymize(identity),
		)
		if s.metrics != nil {
			s.metrics.IncrementMissingLimit(class)
		}
		now := requestcontext.Now(ctx)
		return &models.Result{
			Allowed:    false,
			ResetAt:    now.Add(missingLimitRetry),
			RetryAfter: missingLimitRetry,
		}, nil
	}

	result, err := s.buckets.Allow(ctx, models.NewKey(class, identity), limit.RequestsPerWindow, limit.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}

	if s.metrics != nil {
		s.metrics.RecordResult(class, result.Allowed)
	}
	if !result.Allowed {
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"endpoint_class", class,
			"identifier", anonymize(identity),
			"limit", limit.RequestsPerWindow,
			"window_seconds", int(limit.Window.Seconds()),
		)
	}
	return result, nil
}

// anonymize truncates IP identities to their network prefix for logging.
func anonymize(identity string) string {
	addr, err := netip.ParseAddr(identity)
	if err != nil {
		return identity
	}
	bits := 24
	if addr.Is6() && !addr.Is4In6() {
		bits = 48
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return identity
	}
	return prefix.String()
}
