package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"gorm.io/gorm"
)

type communicationRepository struct {
	db *gorm.DB
}

func (r *communicationRepository) Create(ctx context.Context, c domain.Communication) error {
	rec := communicationModel{
		CommunicationID:   c.ID,
		AccountID:         c.AccountID,
		Template:          string(c.Template),
		Recipient:         c.Recipient,
		Status:            string(c.Status),
		ProviderMessageID: c.ProviderMessageID,
		LastError:         c.LastError,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *communicationRepository) Get(ctx context.Context, id uuid.UUID) (domain.Communication, error) {
	var rec communicationModel
	if err := r.db.WithContext(ctx).Where("communication_id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Communication{}, domain.ErrNotFound
		}
		return domain.Communication{}, err
	}
	return toDomainCommunication(rec), nil
}

// UpdateStatus is a compare-and-set on status; empty provider fields keep their stored value.
func (r *communicationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.CommunicationStatus, providerMessageID, lastError string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": at,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	res := r.db.WithContext(ctx).
		Model(&communicationModel{}).
		Where("communication_id = ?", id).
		Where("status = ?", string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
