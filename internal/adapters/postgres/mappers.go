package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"gorm.io/gorm"
)

func toAccountModel(a *domain.Account, version int64) (accountModel, error) {
	perms := a.Permissions
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return accountModel{}, fmt.Errorf("encode permissions: %w", err)
	}
	return accountModel{
		AccountID:           a.ID,
		Email:               a.Email,
		SecretHash:          a.SecretHash,
		SecretHashedOn:      a.SecretHashedOn,
		GivenName:           a.GivenName,
		FamilyName:          a.FamilyName,
		CreatedOn:           a.CreatedOn,
		EmailVerifiedOn:     a.EmailVerifiedOn,
		DisabledOn:          a.DisabledOn,
		LockedOn:            a.LockedOn,
		LastLogon:           a.LastLogon,
		FailedLoginAttempts: a.FailedLoginAttempts,
		Permissions:         string(raw),
		Version:             version,
	}, nil
}

func toDomainAccount(row accountModel) (*domain.Account, error) {
	var perms []string
	if row.Permissions != "" {
		if err := json.Unmarshal([]byte(row.Permissions), &perms); err != nil {
			return nil, fmt.Errorf("decode permissions of account %d: %w", row.AccountID, err)
		}
	}
	slices.Sort(perms)
	return &domain.Account{
		ID:                  row.AccountID,
		Email:               row.Email,
		SecretHash:          row.SecretHash,
		SecretHashedOn:      row.SecretHashedOn.UTC(),
		GivenName:           row.GivenName,
		FamilyName:          row.FamilyName,
		CreatedOn:           row.CreatedOn.UTC(),
		EmailVerifiedOn:     utcPtr(row.EmailVerifiedOn),
		DisabledOn:          utcPtr(row.DisabledOn),
		LockedOn:            utcPtr(row.LockedOn),
		LastLogon:           utcPtr(row.LastLogon),
		FailedLoginAttempts: row.FailedLoginAttempts,
		Permissions:         perms,
		Version:             row.Version,
	}, nil
}

func toOutboxMessage(row outboxModel) ports.OutboxMessage {
	return ports.OutboxMessage{
		MessageID:         row.MessageID,
		MessageType:       row.MessageType,
		MessageData:       []byte(row.MessageData),
		InvisibleUntil:    row.InvisibleUntil.UTC(),
		ReceivesRemaining: row.ReceivesRemaining,
		CreatedAt:         row.CreatedAt.UTC(),
	}
}

func toDomainTokenLog(row tokenLogModel) domain.TokenLog {
	return domain.TokenLog{
		Jti:        row.Jti,
		AccountID:  row.AccountID,
		ReplacedBy: row.ReplacedBy,
		CreatedAt:  row.CreatedAt.UTC(),
		ExpiresAt:  utcPtr(row.ExpiresAt),
		RevokedAt:  utcPtr(row.RevokedAt),
	}
}

func toDomainRecoveryToken(row recoveryTokenModel) domain.RecoveryToken {
	return domain.RecoveryToken{
		TokenHash:  row.TokenHash,
		AccountID:  row.AccountID,
		ExpiresAt:  row.ExpiresAt.UTC(),
		ConsumedAt: utcPtr(row.ConsumedAt),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func toDomainCommunication(row communicationModel) domain.Communication {
	return domain.Communication{
		ID:                row.CommunicationID,
		AccountID:         row.AccountID,
		Template:          domain.EmailTemplate(row.Template),
		Recipient:         row.Recipient,
		Status:            domain.CommunicationStatus(row.Status),
		ProviderMessageID: row.ProviderMessageID,
		LastError:         row.LastError,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
