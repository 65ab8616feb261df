package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type recoveryRepository struct {
	db *gorm.DB
}

func (r *recoveryRepository) CreateEmailVerificationToken(ctx context.Context, token domain.RecoveryToken) error {
	return r.create(ctx, emailVerificationTable, token)
}

func (r *recoveryRepository) ConsumeEmailVerificationToken(ctx context.Context, tokenHash string, at time.Time) (int64, error) {
	return r.consume(ctx, emailVerificationTable, tokenHash, at)
}

func (r *recoveryRepository) CreatePasswordResetToken(ctx context.Context, token domain.RecoveryToken) error {
	return r.create(ctx, passwordResetTable, token)
}

func (r *recoveryRepository) ConsumePasswordResetToken(ctx context.Context, tokenHash string, at time.Time) (int64, error) {
	return r.consume(ctx, passwordResetTable, tokenHash, at)
}

func (r *recoveryRepository) create(ctx context.Context, table string, token domain.RecoveryToken) error {
	rec := recoveryTokenModel{
		TokenHash: token.TokenHash,
		AccountID: token.AccountID,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Table(table).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate recovery token", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// consume locks the token row so two concurrent consumers cannot both succeed.
func (r *recoveryRepository) consume(ctx context.Context, table, tokenHash string, at time.Time) (int64, error) {
	var rec recoveryTokenModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", tokenHash).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if err := toDomainRecoveryToken(rec).Usable(at); err != nil {
			return err
		}
		return tx.Table(table).
			Where("token_hash = ?", tokenHash).
			Update("consumed_at", at).Error
	})
	if err != nil {
		return 0, err
	}
	return rec.AccountID, nil
}
