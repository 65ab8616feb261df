package application

import (
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	IPAddress  string `json:"-"`
}

type RegisterResponse struct {
	AccountID int64 `json:"account_id"`
}

type PasswordGrantRequest struct {
	Email     string
	Password  string
	IPAddress string
}

// TokenResponse follows the OAuth 2.0 token endpoint shape.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

type AccountView struct {
	AccountID     int64      `json:"account_id"`
	Email         string     `json:"email"`
	GivenName     string     `json:"given_name,omitempty"`
	FamilyName    string     `json:"family_name,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Locked        bool       `json:"locked"`
	Disabled      bool       `json:"disabled"`
	Permissions   []string   `json:"permissions"`
	CreatedOn     time.Time  `json:"created_on"`
	LastLogon     *time.Time `json:"last_logon,omitempty"`
}

func accountView(a *domain.Account) AccountView {
	permissions := a.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return AccountView{
		AccountID:     a.ID,
		Email:         a.Email,
		GivenName:     a.GivenName,
		FamilyName:    a.FamilyName,
		EmailVerified: a.IsEmailVerified(),
		Locked:        a.IsLocked(),
		Disabled:      a.IsDisabled(),
		Permissions:   permissions,
		CreatedOn:     a.CreatedOn,
		LastLogon:     a.LastLogon,
	}
}

// PasswordResetJob is queued by the reset-request endpoint and handled by a worker.
type PasswordResetJob struct {
	Email       string
	RequestedAt time.Time
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// WebhookEvent is the provider-neutral delivery callback body.
type WebhookEvent struct {
	CommunicationID   string     `json:"communication_id"`
	Status            string     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id"`
	Reason            string     `json:"reason"`
	OccurredAt        *time.Time `json:"occurred_at"`
}
