// Package audit records configuration changes with fail-closed semantics.
//
// Record writes synchronously and the caller blocks until persistence
// succeeds or fails. If the write fails the triggering mutation must fail too.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
)

// Publisher appends configuration changes and serves compliance reads.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record synchronously appends one change.
// Returns error if persistence fails; the caller MUST fail its operation.
func (p *Publisher) Record(ctx context.Context, change ConfigurationChange) error {
	start := time.Now()

	if change.ClientID.IsZero() {
		return fmt.Errorf("configuration change requires client_id")
	}
	if change.Action == "" {
		return fmt.Errorf("configuration change requires action")
	}
	if change.ChangedBy == "" {
		return fmt.Errorf("configuration change requires changed_by")
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = p.now()
	}
	if change.ID == "" {
		change.ID = NewChangeID(change.Timestamp)
	}

	if err := p.store.Append(ctx, change); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: configuration audit failed",
				"action", change.Action,
				"client_id", change.ClientID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.IncRecorded(change.Action)
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "configuration changed",
			"log_type", "audit",
			"audit_id", change.ID,
			"action", change.Action,
			"client_id", change.ClientID,
			"changed_by", change.ChangedBy,
		)
	}
	return nil
}

// ListByClient returns a client's changes, oldest first.
func (p *Publisher) ListByClient(ctx context.Context, clientID string) ([]ConfigurationChange, error) {
	parsed, err := id.ParseClientID(clientID)
	if err != nil {
		return nil, err
	}
	changes, err := p.store.ListByClient(ctx, parsed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list changes")
	}
	return changes, nil
}

// MaxRange bounds time range queries.
const MaxRange = 31 * 24 * time.Hour

// ListByTimeRange returns changes with from <= timestamp < to, oldest first.
func (p *Publisher) ListByTimeRange(ctx context.Context, from, to time.Time) ([]ConfigurationChange, error) {
	if from.IsZero() || to.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "from and to are required")
	}
	if !from.Before(to) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	if to.Sub(from) > MaxRange {
		return nil, dErrors.New(dErrors.CodeValidation, "time range must not exceed 31 days")
	}
	changes, err := p.store.ListByTimeRange(ctx, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list changes")
	}
	return changes, nil
}
