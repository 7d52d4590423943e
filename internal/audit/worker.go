package audit

import (
	"context"
	"log/slog"
	"time"
)

// Outbox exposes committed changes that have not been shipped yet.
type Outbox interface {
	ListUnpublished(ctx context.Context, limit int) ([]ConfigurationChange, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Producer ships a batch of changes to a downstream event stream.
type Producer interface {
	Publish(ctx context.Context, changes []ConfigurationChange) error
}

// Relay drains the outbox into a Producer. Delivery is at-least-once: a batch
// is marked published only after the producer acknowledged all of it.
type Relay struct {
	outbox    Outbox
	producer  Producer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type RelayOption func(*Relay)

func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = d
	}
}

func WithRelayBatchSize(n int) RelayOption {
	return func(r *Relay) {
		r.batchSize = n
	}
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func NewRelay(outbox Outbox, producer Producer, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "audit relay batch failed", "error", err)
			}
		}
	}
}

// RunOnce ships at most one batch and returns how many changes were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := r.producer.Publish(ctx, batch); err != nil {
		if r.metrics != nil {
			r.metrics.IncPublishFailures()
		}
		return 0, err
	}
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	if err := r.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.AddPublished(len(batch))
	}
	return len(batch), nil
}
