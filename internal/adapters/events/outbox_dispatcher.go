package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"golang.org/x/sync/errgroup"
)

type DispatcherConfig struct {
	PollInterval       time.Duration
	BatchSize          int
	Lease              time.Duration
	MaxBackoff         time.Duration
	StuckCheckInterval time.Duration
}

// OutboxDispatcher claims outbox messages and hands them to the domain event handler.
// Delivery is at-least-once: a message is deleted only after its handler succeeded,
// and a failed message becomes claimable again once its lease expires.
type OutboxDispatcher struct {
	logger  *slog.Logger
	outbox  ports.OutboxRepository
	handler ports.DomainEventHandler
	metrics *observability.Metrics
	cfg     DispatcherConfig
	backoff *backoff.ExponentialBackOff
	nowFn   func() time.Time

	lastStuckCheck time.Time
}

func NewOutboxDispatcher(
	logger *slog.Logger,
	outbox ports.OutboxRepository,
	handler ports.DomainEventHandler,
	metrics *observability.Metrics,
	cfg DispatcherConfig,
) *OutboxDispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 60 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.StuckCheckInterval <= 0 {
		cfg.StuckCheckInterval = time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PollInterval
	bo.MaxInterval = cfg.MaxBackoff
	bo.Reset()

	return &OutboxDispatcher{
		logger:  logger,
		outbox:  outbox,
		handler: handler,
		metrics: metrics,
		cfg:     cfg,
		backoff: bo,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the poll loop until ctx is cancelled. Loop-level failures back off
// exponentially up to MaxBackoff and never end the loop.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	for {
		wait := d.cfg.PollInterval
		if err := d.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = d.nextBackoff()
			d.metrics.OutboxLoopError()
			d.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "events.outbox_dispatcher",
				"layer", "adapter",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"retry_in", wait.String(),
				"error", err,
			)
		} else {
			d.backoff.Reset()
		}
		d.reportStuck(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *OutboxDispatcher) nextBackoff() time.Duration {
	wait := d.backoff.NextBackOff()
	if wait <= 0 || wait > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return wait
}

// ProcessOnce claims one batch and processes it concurrently. It returns an
// error only when the claim itself failed; message failures stay isolated.
func (d *OutboxDispatcher) ProcessOnce(ctx context.Context) error {
	messages, err := d.outbox.Claim(ctx, d.nowFn(), d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}
	d.metrics.OutboxClaimed(len(messages))

	var delivered, failed atomic.Int64
	var g errgroup.Group
	for _, msg := range messages {
		g.Go(func() error {
			if d.processMessage(ctx, msg) {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.InfoContext(ctx, "outbox batch processed",
		"module", "events.outbox_dispatcher",
		"layer", "adapter",
		"operation", "outbox_process_once",
		"outcome", "success",
		"batch_size", len(messages),
		"delivered_count", delivered.Load(),
		"failed_count", failed.Load(),
	)
	return nil
}

func (d *OutboxDispatcher) processMessage(ctx context.Context, msg ports.OutboxMessage) bool {
	event, err := domain.DecodeEvent(msg.MessageType, msg.MessageData)
	if err == nil {
		err = d.safeHandle(ctx, event)
	}
	if err != nil {
		d.recordFailure(ctx, msg, err)
		return false
	}

	d.metrics.OutboxProcessed(msg.MessageType, "delivered")
	if err := d.outbox.Delete(ctx, msg.MessageID); err != nil {
		d.logger.WarnContext(ctx, "outbox delete failed; message will be redelivered",
			"module", "events.outbox_dispatcher",
			"layer", "adapter",
			"operation", "delete_message",
			"outcome", "failure",
			"message_id", msg.MessageID,
			"event_type", msg.MessageType,
			"error", err,
		)
	}
	return true
}

func (d *OutboxDispatcher) safeHandle(ctx context.Context, event domain.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.Handle(ctx, event)
}

// recordFailure relies on ReceivesRemaining being the post-claim value.
func (d *OutboxDispatcher) recordFailure(ctx context.Context, msg ports.OutboxMessage, err error) {
	d.metrics.OutboxProcessed(msg.MessageType, "failed")
	if msg.ReceivesRemaining <= 0 {
		d.metrics.OutboxExhausted(msg.MessageType)
		d.logger.ErrorContext(ctx, "outbox message exhausted its receive budget",
			"module", "events.outbox_dispatcher",
			"layer", "adapter",
			"operation", "dispatch_event",
			"outcome", "stuck",
			"message_id", msg.MessageID,
			"event_type", msg.MessageType,
			"payload_bytes", len(msg.MessageData),
			"error", err,
		)
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrUnhandledEvent) || errors.Is(err, domain.ErrUnknownMessageType) {
		level = slog.LevelError
	}
	d.logger.Log(ctx, level, "outbox dispatch failed; retry after lease",
		"module", "events.outbox_dispatcher",
		"layer", "adapter",
		"operation", "dispatch_event",
		"outcome", "failure",
		"message_id", msg.MessageID,
		"event_type", msg.MessageType,
		"receives_remaining", msg.ReceivesRemaining,
		"visible_at", msg.InvisibleUntil,
		"error", err,
	)
}

func (d *OutboxDispatcher) reportStuck(ctx context.Context) {
	now := d.nowFn()
	if !d.lastStuckCheck.IsZero() && now.Sub(d.lastStuckCheck) < d.cfg.StuckCheckInterval {
		return
	}
	d.lastStuckCheck = now

	stuck, err := d.outbox.CountStuck(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "outbox stuck count unavailable",
			"module", "events.outbox_dispatcher",
			"layer", "adapter",
			"operation", "count_stuck",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	d.metrics.OutboxStuck(stuck)
	if stuck > 0 {
		d.logger.ErrorContext(ctx, "stuck outbox messages present",
			"module", "events.outbox_dispatcher",
			"layer", "adapter",
			"operation", "count_stuck",
			"outcome", "stuck",
			"stuck_count", stuck,
		)
	}
}
