package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"gorm.io/gorm"
)

type accountRepository struct {
	db            *gorm.DB
	receiveBudget int
	nowFn         func() time.Time
}

func (r *accountRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.WithContext(ctx).Raw("SELECT nextval('accounts_id_seq')").Scan(&id).Error; err != nil {
		return 0, fmt.Errorf("next account id: %w", err)
	}
	return id, nil
}

// Save writes the aggregate, its event log and its outbox rows in one transaction.
func (r *accountRepository) Save(ctx context.Context, a *domain.Account) error {
	nextVersion := a.Version + 1
	rec, err := toAccountModel(a, nextVersion)
	if err != nil {
		return err
	}
	events, outbox, err := r.pendingRows(a)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if a.Version == 0 {
			if err := tx.Create(&rec).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: email already registered", domain.ErrConflict)
				}
				return err
			}
		} else {
			res := tx.Model(&accountModel{}).
				Where("account_id = ?", a.ID).
				Where("version = ?", a.Version).
				Updates(map[string]any{
					"email":                 rec.Email,
					"secret_hash":           rec.SecretHash,
					"secret_hashed_on":      rec.SecretHashedOn,
					"given_name":            rec.GivenName,
					"family_name":           rec.FamilyName,
					"email_verified_on":     rec.EmailVerifiedOn,
					"disabled_on":           rec.DisabledOn,
					"locked_on":             rec.LockedOn,
					"last_logon":            rec.LastLogon,
					"failed_login_attempts": rec.FailedLoginAttempts,
					"permissions":           rec.Permissions,
					"version":               nextVersion,
				})
			if res.Error != nil {
				if isUniqueViolation(res.Error) {
					return fmt.Errorf("%w: email already registered", domain.ErrConflict)
				}
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: stale account version", domain.ErrConflict)
			}
		}
		if len(events) > 0 {
			if err := tx.Create(&events).Error; err != nil {
				return fmt.Errorf("append event log: %w", err)
			}
		}
		if len(outbox) > 0 {
			if err := tx.Create(&outbox).Error; err != nil {
				return fmt.Errorf("enqueue outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.Version = nextVersion
	return nil
}

func (r *accountRepository) pendingRows(a *domain.Account) ([]accountEventModel, []outboxModel, error) {
	now := r.nowFn()
	var events []accountEventModel
	var outbox []outboxModel
	for _, e := range a.PendingEvents() {
		eventType, data, err := domain.EncodeEvent(e)
		if err != nil {
			return nil, nil, err
		}
		meta := e.Metadata()
		events = append(events, accountEventModel{
			EventID:    meta.EventID,
			AccountID:  meta.AccountID,
			EventType:  string(eventType),
			EventData:  string(data),
			TraceID:    meta.TraceID,
			OccurredAt: meta.OccurredAt,
		})
		if e.PublishToOutbox() {
			outbox = append(outbox, outboxModel{
				MessageID:         meta.EventID,
				MessageType:       string(eventType),
				MessageData:       string(data),
				InvisibleUntil:    now,
				ReceivesRemaining: r.receiveBudget,
				CreatedAt:         now,
			})
		}
	}
	return events, outbox, nil
}

func (r *accountRepository) GetByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return toDomainAccount(rec)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return toDomainAccount(rec)
}
