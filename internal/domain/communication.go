package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailTemplate names a transactional message the service sends.
type EmailTemplate string

const (
	TemplateVerifyEmail     EmailTemplate = "verify_email"
	TemplatePasswordReset   EmailTemplate = "password_reset"
	TemplatePasswordChanged EmailTemplate = "password_changed"
	TemplateAccountLocked   EmailTemplate = "account_locked"
)

type CommunicationStatus string

const (
	CommunicationPending   CommunicationStatus = "pending"
	CommunicationSent      CommunicationStatus = "sent"
	CommunicationDelivered CommunicationStatus = "delivered"
	CommunicationOpened    CommunicationStatus = "opened"
	CommunicationFailed    CommunicationStatus = "failed"
	CommunicationBounced   CommunicationStatus = "bounced"
)

var communicationRank = map[CommunicationStatus]int{
	CommunicationPending:   0,
	CommunicationSent:      1,
	CommunicationDelivered: 2,
	CommunicationOpened:    3,
	CommunicationFailed:    4,
	CommunicationBounced:   4,
}

func ParseCommunicationStatus(raw string) (CommunicationStatus, error) {
	s := CommunicationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := communicationRank[s]; !ok {
		return "", fmt.Errorf("%w: unknown delivery status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

func (s CommunicationStatus) Terminal() bool {
	return s == CommunicationFailed || s == CommunicationBounced
}

// CanAdvanceTo rejects out-of-order provider callbacks: a status never moves
// backwards and terminal failures are final.
func (s CommunicationStatus) CanAdvanceTo(next CommunicationStatus) bool {
	if s.Terminal() {
		return false
	}
	return communicationRank[next] > communicationRank[s]
}

// Communication is one outgoing email correlated with provider webhooks by ID.
type Communication struct {
	ID                uuid.UUID
	AccountID         int64
	Template          EmailTemplate
	Recipient         string
	Status            CommunicationStatus
	ProviderMessageID string
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DeliveryUpdate is a normalized provider webhook callback.
type DeliveryUpdate struct {
	Provider          string
	CommunicationID   uuid.UUID
	Status            CommunicationStatus
	ProviderMessageID string
	Reason            string
	OccurredAt        time.Time
}

// RecoveryToken is a hashed one-time token used for email verification and password reset.
type RecoveryToken struct {
	TokenHash  string
	AccountID  int64
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

func (t RecoveryToken) Usable(now time.Time) error {
	if t.ConsumedAt != nil {
		return ErrTokenConsumed
	}
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	return nil
}
