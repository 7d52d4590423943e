// Package service implements the client registry, domain authorization and the
// public configuration lookups.
//
// Every mutation runs as one unit: the store transaction, the audit record and
// the domain index update either all happen or none do. The index writer lock
// is held across the store transaction so index state follows commit order.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trackgate/internal/audit"
	"trackgate/internal/clients/metrics"
	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	"trackgate/internal/clients/secrets"
	"trackgate/internal/domainindex"
	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/sentinel"
	"trackgate/pkg/requestcontext"
)

const (
	maxIDAttempts = 3
	systemActor   = "system"
)

// Auditor durably records configuration changes. Record must join the
// transaction carried by ctx when there is one.
type Auditor interface {
	Record(ctx context.Context, change audit.ConfigurationChange) error
}

// Service orchestrates client and domain management.
type Service struct {
	store        ports.Store
	index        *domainindex.Index
	auditor      Auditor
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	genSalt      models.SaltGenerator
	newID        func() id.ClientID
	defaultOwner string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithSaltGenerator overrides the IP salt source.
func WithSaltGenerator(gen models.SaltGenerator) Option {
	return func(s *Service) {
		s.genSalt = gen
	}
}

// WithIDGenerator overrides client id generation.
func WithIDGenerator(gen func() id.ClientID) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithDefaultOwner sets the owner used when a create request leaves it blank.
func WithDefaultOwner(owner string) Option {
	return func(s *Service) {
		s.defaultOwner = owner
	}
}

// New constructs a Service.
func New(store ports.Store, index *domainindex.Index, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		store:   store,
		index:   index,
		auditor: auditor,
		logger:  slog.Default(),
		tracer:  otel.Tracer("trackgate/clients"),
		genSalt: secrets.GenerateSalt,
		newID:   id.NewClientID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation is the body of a registry write. It runs inside the store
// transaction and returns the index changes to publish on commit.
type mutation func(ctx context.Context, tx ports.Tx) (domainindex.Delta, error)

func (s *Service) mutate(ctx context.Context, operation string, clientID id.ClientID, fn mutation) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "clients."+operation,
		trace.WithAttributes(attribute.String("client.id", clientID.String())))
	defer span.End()

	err := s.index.Commit(func() (domainindex.Delta, error) {
		var delta domainindex.Delta
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
			d, err := fn(ctx, tx)
			delta = d
			return err
		})
		return delta, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		if dErrors.HasCode(err, dErrors.CodeConflict) ||
			errors.Is(err, sentinel.ErrVersionMismatch) ||
			errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.incrementConflict(operation)
		}
		return err
	}
	s.observeMutation(operation, start)
	return nil
}

// record writes the audit entry for a mutation. It is always the last step of
// a mutation so nothing can fail after it inside the transaction.
func (s *Service) record(ctx context.Context, action audit.Action, clientID id.ClientID, description string, before, after map[string]any) error {
	actor := requestcontext.Actor(ctx)
	if actor == "" {
		actor = systemActor
	}
	now := requestcontext.Now(ctx)
	return s.auditor.Record(ctx, audit.ConfigurationChange{
		ID:          audit.NewChangeID(now),
		ClientID:    clientID,
		ChangedBy:   actor,
		Action:      action,
		Description: description,
		OldConfig:   before,
		NewConfig:   after,
		Timestamp:   now,
		RequestID:   requestcontext.RequestID(ctx),
	})
}

// translate maps store facts onto domain errors. Already-coded errors pass
// through unchanged.
func translate(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.Wrap(err, dErrors.CodeConflict, "client was modified concurrently; re-read and retry")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "resource already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "registry operation failed")
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

func (s *Service) observeMutation(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMutation(operation, start)
	}
}

func (s *Service) incrementConflict(operation string) {
	if s.metrics != nil {
		s.metrics.IncrementConflict(operation)
	}
}
