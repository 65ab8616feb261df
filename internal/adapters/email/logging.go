package email

import (
	"context"
	"log/slog"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// LoggingSender renders the template and logs it instead of sending. It is used
// when no SMTP host is configured.
type LoggingSender struct {
	logger *slog.Logger
}

func NewLoggingSender(logger *slog.Logger) *LoggingSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSender{logger: logger}
}

func (s *LoggingSender) Send(ctx context.Context, msg ports.EmailMessage) (ports.SendResult, error) {
	content, err := render(msg)
	if err != nil {
		return ports.SendResult{}, err
	}
	s.logger.InfoContext(ctx, "email rendered",
		"module", "email.logging_sender",
		"layer", "adapter",
		"operation", "send",
		"outcome", "success",
		"communication_id", msg.CommunicationID,
		"template", string(msg.Template),
		"recipient", msg.RecipientEmail,
		"subject", content.Subject,
	)
	return ports.SendResult{ProviderMessageID: "log-" + msg.CommunicationID.String()}, nil
}
