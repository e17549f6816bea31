package core

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/pkg/domain"
)

//go:generate mockgen -destination=mocks/notifier_mock.go -package=mocks custodyledger/internal/core Notifier

// Notifier receives the notifications of a committed operation, in emission
// order.
type Notifier interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// MetricsRecorder observes the outcome and latency of every service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Service is the ledger engine: role-gated transitions and queries over a
// persistent store.
type Service struct {
	store    domain.PersistentStore
	notifier Notifier
	logger   *slog.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the sink for post-commit notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		tracer:  otel.Tracer("custodyledger/internal/core"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store using the
// default rules engine.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// run executes one atomic unit of work and, once it has committed, hands the
// buffered notifications to the notifier.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Tx) error) (domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("ledger.operation", op)))
	defer span.End()

	started := time.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logRejection(ctx, op, err)
		return res, err
	}
	for _, v := range res.Violations {
		s.logger.WarnContext(ctx, "rule warning", "operation", op, "rule", v.Rule, "product_id", v.ProductID, "message", v.Message)
	}
	span.SetAttributes(attribute.Int("ledger.events", len(res.Events)))
	s.flush(ctx, op, res.Events)
	return res, nil
}

func (s *Service) view(ctx context.Context, op string, fn func(v domain.View) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("ledger.operation", op)))
	defer span.End()

	started := time.Now()
	err := s.store.View(ctx, fn)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// flush publishes committed notifications. Committed state is authoritative,
// so a publish failure is logged and never reported to the caller.
func (s *Service) flush(ctx context.Context, op string, events []domain.Event) {
	if s.notifier == nil || len(events) == 0 {
		return
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), events); err != nil {
		s.logger.ErrorContext(ctx, "notification publish failed", "operation", op, "events", len(events), "error", err)
	}
}

func (s *Service) logRejection(ctx context.Context, op string, err error) {
	if isDomainError(err) {
		s.logger.InfoContext(ctx, "ledger operation rejected", "operation", op, "error", err)
		return
	}
	s.logger.ErrorContext(ctx, "ledger operation failed", "operation", op, "error", err)
}
