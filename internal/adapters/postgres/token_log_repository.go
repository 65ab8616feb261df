package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tokenLogRepository struct {
	db *gorm.DB
}

func (r *tokenLogRepository) Insert(ctx context.Context, entry domain.TokenLog) error {
	rec := tokenLogModel{
		Jti:       entry.Jti,
		AccountID: entry.AccountID,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: token %s already logged", domain.ErrConflict, entry.Jti)
		}
		return err
	}
	return nil
}

func (r *tokenLogRepository) Get(ctx context.Context, jti uuid.UUID) (domain.TokenLog, error) {
	var rec tokenLogModel
	if err := r.db.WithContext(ctx).Where("jti = ?", jti).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TokenLog{}, domain.ErrTokenNotFound
		}
		return domain.TokenLog{}, err
	}
	return toDomainTokenLog(rec), nil
}

// Rotate links old to next only while old is still live. A concurrent rotation
// of the same token affects zero rows and rolls next back out.
func (r *tokenLogRepository) Rotate(ctx context.Context, oldJti uuid.UUID, next domain.TokenLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := tokenLogModel{
			Jti:       next.Jti,
			AccountID: next.AccountID,
			CreatedAt: next.CreatedAt,
			ExpiresAt: next.ExpiresAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		res := tx.Model(&tokenLogModel{}).
			Where("jti = ?", oldJti).
			Where("replaced_by IS NULL").
			Where("revoked_at IS NULL").
			Update("replaced_by", next.Jti)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrTokenAlreadyReplaced
		}
		return nil
	})
}

// revokeChainSQL walks replaced_by links in both directions from the start
// token. UNION discards revisited rows, which keeps a corrupted cycle finite.
const revokeChainSQL = `
WITH RECURSIVE ancestors AS (
	SELECT jti FROM token_log WHERE jti = @jti
	UNION
	SELECT t.jti FROM token_log t JOIN ancestors a ON t.replaced_by = a.jti
), descendants AS (
	SELECT jti, replaced_by FROM token_log WHERE jti = @jti
	UNION
	SELECT t.jti, t.replaced_by FROM token_log t JOIN descendants d ON t.jti = d.replaced_by
)
UPDATE token_log
SET revoked_at = COALESCE(revoked_at, @at)
WHERE jti IN (SELECT jti FROM ancestors UNION SELECT jti FROM descendants)
RETURNING jti, account_id, replaced_by, created_at, expires_at, revoked_at`

func (r *tokenLogRepository) RevokeChain(ctx context.Context, jti uuid.UUID, at time.Time) ([]domain.TokenLog, error) {
	var rows []tokenLogModel
	if err := r.db.WithContext(ctx).
		Raw(revokeChainSQL, map[string]any{"jti": jti, "at": at}).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("revoke token chain: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	result := make([]domain.TokenLog, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainTokenLog(row))
	}
	return result, nil
}

func (r *tokenLogRepository) RevokeAllForAccount(ctx context.Context, accountID int64, at time.Time) ([]uuid.UUID, error) {
	var rows []tokenLogModel
	err := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "jti"}}}).
		Where("account_id = ?", accountID).
		Where("revoked_at IS NULL").
		Update("revoked_at", at).Error
	if err != nil {
		return nil, fmt.Errorf("revoke account tokens: %w", err)
	}
	jtis := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		jtis = append(jtis, row.Jti)
	}
	return jtis, nil
}
