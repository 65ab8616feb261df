package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// sendEmail records a Communication before handing the message to the provider
// so that delivery webhooks can always be correlated.
func (s *Service) sendEmail(ctx context.Context, account *domain.Account, template domain.EmailTemplate, data map[string]string) error {
	now := s.nowFn()
	comm := domain.Communication{
		ID:        uuid.Must(uuid.NewV7()),
		AccountID: account.ID,
		Template:  template,
		Recipient: account.Email,
		Status:    domain.CommunicationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.communications.Create(ctx, comm); err != nil {
		return fmt.Errorf("record communication: %w", err)
	}

	result, sendErr := s.email.Send(ctx, ports.EmailMessage{
		CommunicationID: comm.ID,
		Template:        template,
		RecipientEmail:  account.Email,
		RecipientName:   account.DisplayName(),
		Data:            data,
	})
	next, providerID, lastError := domain.CommunicationSent, result.ProviderMessageID, ""
	if sendErr != nil {
		next, lastError = domain.CommunicationFailed, sendErr.Error()
	}
	if _, err := s.communications.UpdateStatus(ctx, comm.ID, domain.CommunicationPending, next, providerID, lastError, s.nowFn()); err != nil {
		s.logger.WarnContext(ctx, "failed to update communication status",
			"module", "application",
			"layer", "application",
			"operation", "send_email",
			"outcome", "failure",
			"communication_id", comm.ID,
			"error", err,
		)
	}
	if sendErr != nil {
		return fmt.Errorf("send %s email: %w", template, sendErr)
	}
	return nil
}

// EnqueueDeliveryUpdate validates a provider webhook body and queues it.
func (s *Service) EnqueueDeliveryUpdate(ctx context.Context, provider string, event WebhookEvent) error {
	id, err := uuid.Parse(strings.TrimSpace(event.CommunicationID))
	if err != nil {
		return fmt.Errorf("%w: invalid communication_id", domain.ErrInvalidInput)
	}
	status, err := domain.ParseCommunicationStatus(event.Status)
	if err != nil {
		return err
	}
	occurredAt := s.nowFn()
	if event.OccurredAt != nil {
		occurredAt = event.OccurredAt.UTC()
	}
	update := domain.DeliveryUpdate{
		Provider:          strings.ToLower(strings.TrimSpace(provider)),
		CommunicationID:   id,
		Status:            status,
		ProviderMessageID: strings.TrimSpace(event.ProviderMessageID),
		Reason:            strings.TrimSpace(event.Reason),
		OccurredAt:        occurredAt,
	}
	if err := s.webhookQueue.TryEnqueue(update); err != nil {
		s.metrics.QueueRejected(webhookQueueName)
		s.logger.WarnContext(ctx, "webhook queue full",
			"module", "application",
			"layer", "application",
			"operation", "enqueue_delivery_update",
			"outcome", "rejected",
			"communication_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// ApplyDeliveryUpdate is the webhook worker's handler. Out-of-order and
// unknown callbacks are ignored.
func (s *Service) ApplyDeliveryUpdate(ctx context.Context, update domain.DeliveryUpdate) error {
	comm, err := s.communications.Get(ctx, update.CommunicationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "webhook for unknown communication",
				"module", "application",
				"layer", "application",
				"operation", "apply_delivery_update",
				"outcome", "ignored",
				"communication_id", update.CommunicationID,
				"provider", update.Provider,
			)
			return nil
		}
		return err
	}
	if !comm.Status.CanAdvanceTo(update.Status) {
		return nil
	}
	applied, err := s.communications.UpdateStatus(ctx, comm.ID, comm.Status, update.Status, update.ProviderMessageID, update.Reason, update.OccurredAt)
	if err != nil {
		return fmt.Errorf("update communication: %w", err)
	}
	if applied && update.Status.Terminal() {
		s.logger.WarnContext(ctx, "email delivery failed",
			"module", "application",
			"layer", "application",
			"operation", "apply_delivery_update",
			"outcome", string(update.Status),
			"communication_id", comm.ID,
			"account_id", comm.AccountID,
			"template", string(comm.Template),
			"reason", update.Reason,
		)
	}
	return nil
}
