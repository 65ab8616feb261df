package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// Register creates an account. The account row, its AccountCreated event and the
// outbox message that triggers the verification email commit together.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return RegisterResponse{}, err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "register:ip:"+ip, s.cfg.RegisterRateLimit); err != nil {
			return RegisterResponse{}, err
		}
	}
	if err := s.enforceRateLimit(ctx, "register:email:"+email, s.cfg.RegisterRateLimit); err != nil {
		return RegisterResponse{}, err
	}
	if err := domain.ValidateSecret(req.Password); err != nil {
		return RegisterResponse{}, err
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return RegisterResponse{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return RegisterResponse{}, err
	}

	secretHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.accounts.NextID(ctx)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("allocate account id: %w", err)
	}
	account, err := domain.CreateUser(id, email, secretHash, req.GivenName, req.FamilyName, s.nowFn())
	if err != nil {
		return RegisterResponse{}, err
	}
	if err := s.save(ctx, account); err != nil {
		return RegisterResponse{}, err
	}

	s.logger.InfoContext(ctx, "account registered",
		"module", "application",
		"layer", "application",
		"operation", "register",
		"outcome", "success",
		"account_id", account.ID,
	)
	return RegisterResponse{AccountID: account.ID}, nil
}

func (s *Service) GetAccount(ctx context.Context, claims ports.TokenClaims) (AccountView, error) {
	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AccountView{}, domain.ErrUnauthorized
		}
		return AccountView{}, err
	}
	return accountView(account), nil
}

// UnlockAccount clears a lockout. Only administrators may call it.
func (s *Service) UnlockAccount(ctx context.Context, actor ports.TokenClaims, accountID int64) (AccountView, error) {
	if err := s.requireAdmin(actor); err != nil {
		return AccountView{}, err
	}
	account, err := s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.Unlock(s.nowFn())
		return err
	})
	if err != nil {
		return AccountView{}, err
	}
	s.logAdminAction(ctx, "unlock_account", actor, accountID)
	return accountView(account), nil
}

// DisableAccount disables the account and revokes its refresh tokens.
func (s *Service) DisableAccount(ctx context.Context, actor ports.TokenClaims, accountID int64, reason string) (AccountView, error) {
	if err := s.requireAdmin(actor); err != nil {
		return AccountView{}, err
	}
	account, err := s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.Disable(reason, s.nowFn())
		return err
	})
	if err != nil {
		return AccountView{}, err
	}
	if err := s.RevokeAll(ctx, accountID, "account_disabled"); err != nil {
		return AccountView{}, err
	}
	s.logAdminAction(ctx, "disable_account", actor, accountID)
	return accountView(account), nil
}

func (s *Service) GrantPermission(ctx context.Context, actor ports.TokenClaims, accountID int64, permission string) (AccountView, error) {
	if err := s.requireAdmin(actor); err != nil {
		return AccountView{}, err
	}
	account, err := s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.Grant(permission, s.nowFn())
		return err
	})
	if err != nil {
		return AccountView{}, err
	}
	s.logAdminAction(ctx, "grant_permission", actor, accountID)
	return accountView(account), nil
}

func (s *Service) RevokePermission(ctx context.Context, actor ports.TokenClaims, accountID int64, permission string) (AccountView, error) {
	if err := s.requireAdmin(actor); err != nil {
		return AccountView{}, err
	}
	account, err := s.mutateByID(ctx, accountID, func(a *domain.Account) error {
		_, err := a.Revoke(permission, s.nowFn())
		return err
	})
	if err != nil {
		return AccountView{}, err
	}
	s.logAdminAction(ctx, "revoke_permission", actor, accountID)
	return accountView(account), nil
}

func (s *Service) requireAdmin(actor ports.TokenClaims) error {
	if !slices.Contains(actor.Permissions, s.cfg.AdminPermission) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Service) logAdminAction(ctx context.Context, operation string, actor ports.TokenClaims, accountID int64) {
	s.logger.InfoContext(ctx, "administrative account change",
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "success",
		"actor_account_id", actor.AccountID,
		"account_id", accountID,
	)
}
