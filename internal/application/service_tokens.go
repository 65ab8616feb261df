package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// PasswordGrant authenticates with email and password and starts a new refresh chain.
func (s *Service) PasswordGrant(ctx context.Context, req PasswordGrantRequest) (TokenResponse, error) {
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return TokenResponse{}, domain.ErrInvalidCredentials
	}
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.verifyDecoy(req.Password)
			return TokenResponse{}, domain.ErrInvalidCredentials
		}
		return TokenResponse{}, err
	}
	if err := account.CheckActive(); err != nil {
		s.logger.WarnContext(ctx, "login refused for inactive account",
			"module", "application",
			"layer", "application",
			"operation", "password_grant",
			"outcome", "blocked",
			"account_id", account.ID,
			"error", err,
		)
		return TokenResponse{}, err
	}

	result := s.hasher.Verify(account.SecretHash, req.Password)
	if result == ports.VerifyFailed {
		return TokenResponse{}, s.recordFailedLogin(ctx, account)
	}

	rehashed := ""
	if result == ports.VerifySuccessRehashNeeded {
		if hash, err := s.hasher.Hash(req.Password); err == nil {
			rehashed = hash
		}
	}
	account, err = s.mutate(ctx, account, func(a *domain.Account) error {
		_, err := a.Login(s.nowFn(), rehashed)
		return err
	})
	if err != nil {
		return TokenResponse{}, err
	}

	resp, entry, err := s.issueTokens(account)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.tokenLog.Insert(ctx, entry); err != nil {
		return TokenResponse{}, fmt.Errorf("record refresh token: %w", err)
	}
	return resp, nil
}

// verifyDecoy runs one hash comparison so an unknown email costs as much as a
// wrong password.
func (s *Service) verifyDecoy(secret string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("decoy:" + uuid.NewString())
		if err == nil {
			s.decoyHash = hash
		}
	})
	if s.decoyHash != "" {
		_ = s.hasher.Verify(s.decoyHash, secret)
	}
}

func (s *Service) recordFailedLogin(ctx context.Context, account *domain.Account) error {
	var failed *domain.AccountLoginFailed
	_, err := s.mutate(ctx, account, func(a *domain.Account) error {
		var err error
		failed, err = a.FailLogin(s.nowFn(), s.cfg.FailedLoginThreshold)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record failed login",
			"module", "application",
			"layer", "application",
			"operation", "password_grant",
			"outcome", "failure",
			"account_id", account.ID,
			"error", err,
		)
		return domain.ErrInvalidCredentials
	}
	if failed.Locked {
		s.logger.WarnContext(ctx, "account lockout triggered",
			"module", "application",
			"layer", "application",
			"operation", "password_grant",
			"outcome", "blocked",
			"account_id", account.ID,
			"failed_login_attempts", failed.FailedLoginAttempts,
		)
		return domain.ErrAccountLocked
	}
	return domain.ErrInvalidCredentials
}

// Refresh rotates a refresh token. Presenting a token that was already rotated
// revokes the whole chain it belongs to. Every refusal wraps ErrUnauthorized,
// except locked or disabled accounts.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	claims, err := s.tokens.Validate(refreshToken)
	if err != nil {
		return TokenResponse{}, s.refuseRefresh(ctx, uuid.Nil, 0, err)
	}
	if claims.Use != ports.TokenUseRefresh || claims.TokenID == uuid.Nil {
		return TokenResponse{}, s.refuseRefresh(ctx, claims.TokenID, claims.AccountID, domain.ErrUnauthorized)
	}

	entry, err := s.tokenLog.Get(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return TokenResponse{}, s.refuseRefresh(ctx, claims.TokenID, claims.AccountID, err)
		}
		return TokenResponse{}, err
	}
	if entry.AccountID != claims.AccountID {
		return TokenResponse{}, s.refuseRefresh(ctx, entry.Jti, claims.AccountID, domain.ErrUnauthorized)
	}

	now := s.nowFn()
	if err := entry.CheckRefreshable(now); err != nil {
		if errors.Is(err, domain.ErrTokenReuseDetected) {
			s.revokeChain(ctx, entry)
		}
		return TokenResponse{}, s.refuseRefresh(ctx, entry.Jti, entry.AccountID, err)
	}

	account, err := s.accounts.GetByID(ctx, entry.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TokenResponse{}, s.refuseRefresh(ctx, entry.Jti, entry.AccountID, domain.ErrTokenNotFound)
		}
		return TokenResponse{}, err
	}
	if err := account.CheckActive(); err != nil {
		s.metrics.TokenRefresh("inactive_account")
		return TokenResponse{}, err
	}

	resp, next, err := s.issueTokens(account)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.tokenLog.Rotate(ctx, entry.Jti, next); err != nil {
		if errors.Is(err, domain.ErrTokenAlreadyReplaced) {
			s.revokeChain(ctx, entry)
			return TokenResponse{}, s.refuseRefresh(ctx, entry.Jti, entry.AccountID, domain.ErrTokenReuseDetected)
		}
		return TokenResponse{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	s.metrics.TokenRefresh("rotated")
	return resp, nil
}

func (s *Service) refuseRefresh(ctx context.Context, jti uuid.UUID, accountID int64, reason error) error {
	outcome := "invalid"
	switch {
	case errors.Is(reason, domain.ErrTokenNotFound):
		outcome = "not_found"
	case errors.Is(reason, domain.ErrTokenRevoked):
		outcome = "revoked"
	case errors.Is(reason, domain.ErrTokenExpired):
		outcome = "expired"
	case errors.Is(reason, domain.ErrTokenReuseDetected):
		outcome = "reuse_detected"
	}
	s.metrics.TokenRefresh(outcome)
	s.logger.WarnContext(ctx, "refresh token refused",
		"module", "application",
		"layer", "application",
		"operation", "refresh",
		"outcome", outcome,
		"jti", jti,
		"account_id", accountID,
	)
	if !errors.Is(reason, domain.ErrUnauthorized) {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, reason)
	}
	return reason
}

// revokeChain revokes every token linked to entry and marks the access tokens
// issued alongside them. Failures are logged; the refusal stands either way.
func (s *Service) revokeChain(ctx context.Context, entry domain.TokenLog) {
	members, err := s.tokenLog.RevokeChain(ctx, entry.Jti, s.nowFn())
	if err != nil {
		s.logger.ErrorContext(ctx, "refresh chain revocation failed",
			"module", "application",
			"layer", "application",
			"operation", "revoke_chain",
			"outcome", "failure",
			"jti", entry.Jti,
			"account_id", entry.AccountID,
			"error", err,
		)
		return
	}
	for _, m := range members {
		s.markTokenRevoked(ctx, m.Jti)
	}
	s.logger.WarnContext(ctx, "refresh token reuse detected; chain revoked",
		"module", "application",
		"layer", "application",
		"operation", "revoke_chain",
		"outcome", "revoked",
		"jti", entry.Jti,
		"account_id", entry.AccountID,
		"chain_size", len(members),
	)
}

func (s *Service) markTokenRevoked(ctx context.Context, jti uuid.UUID) {
	if s.revocations == nil {
		return
	}
	if err := s.revocations.MarkTokenRevoked(ctx, jti, s.cfg.AccessTokenTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to write revocation marker",
			"module", "application",
			"layer", "application",
			"operation", "mark_token_revoked",
			"outcome", "failure",
			"jti", jti,
			"error", err,
		)
	}
}

// RevokeAll revokes every live refresh token of the account and marks the
// access tokens issued alongside them. The account cut-off also covers access
// tokens whose refresh row is gone.
func (s *Service) RevokeAll(ctx context.Context, accountID int64, reason string) error {
	now := s.nowFn()
	revoked, err := s.tokenLog.RevokeAllForAccount(ctx, accountID, now)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	for _, jti := range revoked {
		s.markTokenRevoked(ctx, jti)
	}
	if s.revocations != nil {
		// JWT iat has second precision.
		if err := s.revocations.MarkAccountRevokedBefore(ctx, accountID, now.Truncate(time.Second), s.cfg.AccessTokenTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to write account revocation marker",
				"module", "application",
				"layer", "application",
				"operation", "revoke_all",
				"outcome", "failure",
				"account_id", accountID,
				"error", err,
			)
		}
	}
	s.logger.InfoContext(ctx, "refresh tokens revoked",
		"module", "application",
		"layer", "application",
		"operation", "revoke_all",
		"outcome", "success",
		"account_id", accountID,
		"reason", reason,
		"revoked_count", len(revoked),
	)
	return nil
}

// ValidateAccessToken verifies signature, use and revocation markers.
// Marker lookups fail open so a cache outage does not lock everybody out.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (ports.TokenClaims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return ports.TokenClaims{}, domain.ErrUnauthorized
	}
	if claims.Use != ports.TokenUseAccess {
		return ports.TokenClaims{}, domain.ErrUnauthorized
	}
	if s.revocations == nil {
		return claims, nil
	}
	if claims.RefreshID != uuid.Nil {
		revoked, err := s.revocations.IsTokenRevoked(ctx, claims.RefreshID)
		if err != nil {
			s.warnRevocationLookup(ctx, err)
		} else if revoked {
			return ports.TokenClaims{}, domain.ErrTokenRevoked
		}
	}
	before, err := s.revocations.AccountRevokedBefore(ctx, claims.AccountID)
	if err != nil {
		s.warnRevocationLookup(ctx, err)
	} else if before != nil && claims.IssuedAt.Before(*before) {
		return ports.TokenClaims{}, domain.ErrTokenRevoked
	}
	return claims, nil
}

func (s *Service) warnRevocationLookup(ctx context.Context, err error) {
	s.logger.WarnContext(ctx, "revocation marker lookup failed",
		"module", "application",
		"layer", "application",
		"operation", "validate_access_token",
		"outcome", "warning",
		"error", err,
	)
}

func (s *Service) PublicKeys() ([]map[string]any, error) {
	return s.tokens.PublicJWKs()
}

// issueTokens signs a fresh access/refresh pair. The returned entry is the
// token log row for the refresh token; the caller inserts or rotates it.
func (s *Service) issueTokens(account *domain.Account) (TokenResponse, domain.TokenLog, error) {
	now := s.nowFn()
	refreshJti := uuid.Must(uuid.NewV7())

	refreshToken, refreshExpiry, _, err := s.tokens.Generate(ports.TokenClaims{
		AccountID: account.ID,
		Email:     account.Email,
		Use:       ports.TokenUseRefresh,
		TokenID:   refreshJti,
		IssuedAt:  now,
	}, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenResponse{}, domain.TokenLog{}, fmt.Errorf("sign refresh token: %w", err)
	}
	accessToken, _, _, err := s.tokens.Generate(ports.TokenClaims{
		AccountID:   account.ID,
		Email:       account.Email,
		Permissions: account.Permissions,
		Use:         ports.TokenUseAccess,
		RefreshID:   refreshJti,
		IssuedAt:    now,
	}, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenResponse{}, domain.TokenLog{}, fmt.Errorf("sign access token: %w", err)
	}

	entry := domain.TokenLog{
		Jti:       refreshJti,
		AccountID: account.ID,
		CreatedAt: now,
		ExpiresAt: &refreshExpiry,
	}
	return TokenResponse{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshExpiresIn: int64(s.cfg.RefreshTokenTTL.Seconds()),
	}, entry, nil
}
