package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
)

// AccountEventHandlers has one method per DomainEvent variant. Adding a variant
// without a method here breaks CheckRoutes and its test.
type AccountEventHandlers interface {
	HandleAccountCreated(ctx context.Context, e *domain.AccountCreated) error
	HandleAccountEmailVerified(ctx context.Context, e *domain.AccountEmailVerified) error
	HandleAccountPasswordChanged(ctx context.Context, e *domain.AccountPasswordChanged) error
	HandleAccountLoginSucceeded(ctx context.Context, e *domain.AccountLoginSucceeded) error
	HandleAccountLoginFailed(ctx context.Context, e *domain.AccountLoginFailed) error
	HandleAccountPermissionGranted(ctx context.Context, e *domain.AccountPermissionGranted) error
	HandleAccountPermissionRevoked(ctx context.Context, e *domain.AccountPermissionRevoked) error
	HandleAccountUnlocked(ctx context.Context, e *domain.AccountUnlocked) error
	HandleAccountDisabled(ctx context.Context, e *domain.AccountDisabled) error
}

// Route sends e to the handler method for its variant.
func Route(ctx context.Context, h AccountEventHandlers, e domain.DomainEvent) error {
	switch ev := e.(type) {
	case *domain.AccountCreated:
		return h.HandleAccountCreated(ctx, ev)
	case *domain.AccountEmailVerified:
		return h.HandleAccountEmailVerified(ctx, ev)
	case *domain.AccountPasswordChanged:
		return h.HandleAccountPasswordChanged(ctx, ev)
	case *domain.AccountLoginSucceeded:
		return h.HandleAccountLoginSucceeded(ctx, ev)
	case *domain.AccountLoginFailed:
		return h.HandleAccountLoginFailed(ctx, ev)
	case *domain.AccountPermissionGranted:
		return h.HandleAccountPermissionGranted(ctx, ev)
	case *domain.AccountPermissionRevoked:
		return h.HandleAccountPermissionRevoked(ctx, ev)
	case *domain.AccountUnlocked:
		return h.HandleAccountUnlocked(ctx, ev)
	case *domain.AccountDisabled:
		return h.HandleAccountDisabled(ctx, ev)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnhandledEvent, e)
	}
}

// CheckRoutes verifies that every known event type reaches a handler method.
func CheckRoutes() error {
	recorder := &routeRecorder{}
	for _, t := range domain.EventTypes() {
		e, err := domain.NewEvent(t)
		if err != nil {
			return err
		}
		recorder.hit = ""
		if err := Route(context.Background(), recorder, e); err != nil {
			return fmt.Errorf("event %s: %w", t, err)
		}
		if recorder.hit != t {
			return fmt.Errorf("%w: %s routed to %q", domain.ErrUnhandledEvent, t, recorder.hit)
		}
	}
	return nil
}

// EventRouter runs each event in its own span and deadline.
type EventRouter struct {
	handlers AccountEventHandlers
	logger   *slog.Logger
	tracer   trace.Tracer
	timeout  time.Duration
}

func NewEventRouter(handlers AccountEventHandlers, logger *slog.Logger, timeout time.Duration) (*EventRouter, error) {
	if handlers == nil {
		return nil, errors.New("event router requires handlers")
	}
	if err := CheckRoutes(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EventRouter{
		handlers: handlers,
		logger:   logger,
		tracer:   observability.Tracer("account-service/events"),
		timeout:  timeout,
	}, nil
}

func (r *EventRouter) Handle(ctx context.Context, e domain.DomainEvent) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", domain.ErrUnhandledEvent)
	}
	meta := e.Metadata()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "account_event."+string(e.Type()),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.id", meta.EventID.String()),
			attribute.String("event.type", string(e.Type())),
			attribute.Int64("account.id", meta.AccountID),
			attribute.String("event.origin_trace_id", meta.TraceID),
		),
	)
	defer span.End()

	err := Route(ctx, r.handlers, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrUnhandledEvent) {
			r.logger.ErrorContext(ctx, "no handler for domain event",
				"module", "application",
				"layer", "application",
				"operation", "route_event",
				"outcome", "failure",
				"event_type", string(e.Type()),
				"event_id", meta.EventID,
				"error", err,
			)
		}
		return err
	}
	return nil
}

type routeRecorder struct {
	hit domain.EventType
}

func (p *routeRecorder) record(e domain.DomainEvent) error {
	p.hit = e.Type()
	return nil
}

func (p *routeRecorder) HandleAccountCreated(_ context.Context, e *domain.AccountCreated) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountEmailVerified(_ context.Context, e *domain.AccountEmailVerified) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountPasswordChanged(_ context.Context, e *domain.AccountPasswordChanged) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountLoginSucceeded(_ context.Context, e *domain.AccountLoginSucceeded) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountLoginFailed(_ context.Context, e *domain.AccountLoginFailed) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountPermissionGranted(_ context.Context, e *domain.AccountPermissionGranted) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountPermissionRevoked(_ context.Context, e *domain.AccountPermissionRevoked) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountUnlocked(_ context.Context, e *domain.AccountUnlocked) error {
	return p.record(e)
}

func (p *routeRecorder) HandleAccountDisabled(_ context.Context, e *domain.AccountDisabled) error {
	return p.record(e)
}
