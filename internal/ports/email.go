package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

// EmailMessage is one templated transactional email.
// CommunicationID travels to the provider as a custom id so webhooks can be correlated.
type EmailMessage struct {
	CommunicationID uuid.UUID
	Template        domain.EmailTemplate
	RecipientEmail  string
	RecipientName   string
	Data            map[string]string
}

type SendResult struct {
	ProviderMessageID string
}

// EmailSender hands messages to an email provider.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (SendResult, error)
}
