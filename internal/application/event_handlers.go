package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

var _ AccountEventHandlers = (*Service)(nil)

// HandleAccountCreated sends the verification email. Redelivery sends another
// email with a fresh token, which is acceptable.
func (s *Service) HandleAccountCreated(ctx context.Context, e *domain.AccountCreated) error {
	account, err := s.accounts.GetByID(ctx, e.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", e.AccountID, err)
	}
	if account.IsEmailVerified() || account.IsDisabled() {
		return nil
	}
	return s.issueEmailVerification(ctx, account)
}

func (s *Service) HandleAccountEmailVerified(ctx context.Context, e *domain.AccountEmailVerified) error {
	return s.publishIntegration(ctx, e)
}

// HandleAccountPasswordChanged notifies the owner and publishes the change.
func (s *Service) HandleAccountPasswordChanged(ctx context.Context, e *domain.AccountPasswordChanged) error {
	account, err := s.accounts.GetByID(ctx, e.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", e.AccountID, err)
	}
	if err := s.sendEmail(ctx, account, domain.TemplatePasswordChanged, map[string]string{
		"reason": string(e.Reason),
	}); err != nil {
		return err
	}
	return s.publishIntegration(ctx, e)
}

// HandleAccountLoginSucceeded exists for completeness; the event never reaches the outbox.
func (s *Service) HandleAccountLoginSucceeded(ctx context.Context, e *domain.AccountLoginSucceeded) error {
	s.logger.DebugContext(ctx, "login succeeded event ignored",
		"module", "application",
		"layer", "application",
		"operation", "handle_login_succeeded",
		"outcome", "ignored",
		"account_id", e.AccountID,
	)
	return nil
}

func (s *Service) HandleAccountLoginFailed(ctx context.Context, e *domain.AccountLoginFailed) error {
	if !e.Locked {
		return nil
	}
	account, err := s.accounts.GetByID(ctx, e.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", e.AccountID, err)
	}
	if err := s.sendEmail(ctx, account, domain.TemplateAccountLocked, map[string]string{
		"failed_login_attempts": strconv.Itoa(e.FailedLoginAttempts),
	}); err != nil {
		return err
	}
	return s.publishIntegration(ctx, e)
}

func (s *Service) HandleAccountPermissionGranted(ctx context.Context, e *domain.AccountPermissionGranted) error {
	return s.publishIntegration(ctx, e)
}

func (s *Service) HandleAccountPermissionRevoked(ctx context.Context, e *domain.AccountPermissionRevoked) error {
	return s.publishIntegration(ctx, e)
}

func (s *Service) HandleAccountUnlocked(ctx context.Context, e *domain.AccountUnlocked) error {
	return s.publishIntegration(ctx, e)
}

func (s *Service) HandleAccountDisabled(ctx context.Context, e *domain.AccountDisabled) error {
	return s.publishIntegration(ctx, e)
}

// publishIntegration forwards the event payload, keyed by account id.
func (s *Service) publishIntegration(ctx context.Context, e domain.DomainEvent) error {
	if s.publisher == nil {
		return errors.New("event publisher is not configured")
	}
	eventType, payload, err := domain.EncodeEvent(e)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(e.Metadata().AccountID, 10)
	if err := s.publisher.Publish(ctx, string(eventType), payload, key); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
