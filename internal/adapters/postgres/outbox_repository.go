package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type outboxRepository struct {
	db *gorm.DB
}

// Claim leases up to limit visible messages in a single UPDATE. Rows locked by
// another dispatcher are skipped, so concurrent claimers never share a message.
func (r *outboxRepository) Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	db := r.db.WithContext(ctx)
	subquery := db.Model(&outboxModel{}).
		Select("message_id").
		Where("receives_remaining > 0").
		Where("invisible_until <= ?", now).
		Order("invisible_until ASC, created_at ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

	var rows []outboxModel
	if err := db.Model(&rows).
		Clauses(clause.Returning{}).
		Where("message_id IN (?)", subquery).
		Updates(map[string]any{
			"invisible_until":    now.Add(lease),
			"receives_remaining": gorm.Expr("receives_remaining - 1"),
		}).Error; err != nil {
		return nil, err
	}

	result := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		result = append(result, toOutboxMessage(row))
	}
	return result, nil
}

func (r *outboxRepository) Delete(ctx context.Context, messageID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Delete(&outboxModel{}).Error
}

// CountStuck counts messages whose receive budget is spent.
func (r *outboxRepository) CountStuck(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("receives_remaining <= 0").
		Count(&n).Error
	return n, err
}
