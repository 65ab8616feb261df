package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

const (
	resetQueueName   = "password_reset"
	webhookQueueName = "email_webhook"
)

// VerifyEmail consumes a verification token and marks the address verified.
// A token for an address that is already verified still succeeds.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	accountID, err := s.recovery.ConsumeEmailVerificationToken(ctx, hashToken(token), s.nowFn())
	if err != nil {
		return recoveryTokenError(err)
	}
	_, err = s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.VerifyEmail(s.nowFn())
		return err
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	return err
}

// RequestPasswordReset queues the request for the reset worker. Unknown emails
// are indistinguishable from known ones to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ipAddress string) error {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if ip := strings.TrimSpace(ipAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "reset:ip:"+ip, s.cfg.ResetRequestLimit); err != nil {
			return err
		}
	}
	if err := s.enforceRateLimit(ctx, "reset:email:"+normalized, s.cfg.ResetRequestLimit); err != nil {
		return err
	}
	if err := s.resetQueue.TryEnqueue(PasswordResetJob{Email: normalized, RequestedAt: s.nowFn()}); err != nil {
		s.metrics.QueueRejected(resetQueueName)
		s.logger.WarnContext(ctx, "password reset queue full",
			"module", "application",
			"layer", "application",
			"operation", "request_password_reset",
			"outcome", "rejected",
			"error", err,
		)
		return err
	}
	return nil
}

// ProcessPasswordReset is the reset worker's handler. It issues a one-time token
// and emails it.
func (s *Service) ProcessPasswordReset(ctx context.Context, job PasswordResetJob) error {
	account, err := s.accounts.GetByEmail(ctx, job.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if account.IsDisabled() {
		return nil
	}

	raw, err := newRecoveryToken()
	if err != nil {
		return err
	}
	now := s.nowFn()
	if err := s.recovery.CreatePasswordResetToken(ctx, domain.RecoveryToken{
		TokenHash: hashToken(raw),
		AccountID: account.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.PasswordResetTTL),
	}); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return s.sendEmail(ctx, account, domain.TemplatePasswordReset, map[string]string{
		"token": raw,
		"link":  s.link("/password/reset", raw),
	})
}

// ResetPassword consumes a reset token, replaces the secret and revokes every session.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateSecret(req.NewPassword); err != nil {
		return err
	}
	accountID, err := s.recovery.ConsumePasswordResetToken(ctx, hashToken(req.Token), s.nowFn())
	if err != nil {
		return recoveryTokenError(err)
	}
	secretHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.ChangePassword(secretHash, domain.PasswordChangedByReset, s.nowFn())
		return err
	}); err != nil {
		return err
	}
	return s.RevokeAll(ctx, accountID, "password_reset")
}

// ChangePassword replaces the secret of the authenticated account and revokes every session.
func (s *Service) ChangePassword(ctx context.Context, claims ports.TokenClaims, req ChangePasswordRequest) error {
	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnauthorized
		}
		return err
	}
	if s.hasher.Verify(account.SecretHash, req.CurrentPassword) == ports.VerifyFailed {
		return domain.ErrInvalidCredentials
	}
	if req.CurrentPassword == req.NewPassword {
		return fmt.Errorf("%w: new password must differ from the current one", domain.ErrInvalidInput)
	}
	if err := domain.ValidateSecret(req.NewPassword); err != nil {
		return err
	}
	secretHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.mutate(ctx, account, func(a *domain.Account) error {
		_, err := a.ChangePassword(secretHash, domain.PasswordChangedByUser, s.nowFn())
		return err
	}); err != nil {
		return err
	}
	return s.RevokeAll(ctx, account.ID, "password_changed")
}

// issueEmailVerification stores a verification token and mails it.
func (s *Service) issueEmailVerification(ctx context.Context, account *domain.Account) error {
	raw, err := newRecoveryToken()
	if err != nil {
		return err
	}
	now := s.nowFn()
	if err := s.recovery.CreateEmailVerificationToken(ctx, domain.RecoveryToken{
		TokenHash: hashToken(raw),
		AccountID: account.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.EmailVerificationTTL),
	}); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}
	return s.sendEmail(ctx, account, domain.TemplateVerifyEmail, map[string]string{
		"token": raw,
		"link":  s.link("/email/verify", raw),
	})
}

func (s *Service) link(path, token string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func recoveryTokenError(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrTokenConsumed) {
		return domain.ErrUnauthorized
	}
	return err
}

// hashToken stores one-way token fingerprints instead of raw secrets.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func newRecoveryToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
