package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

// AccountStore persists the account aggregate.
// Save writes the row, appends every pending event to the event log and enqueues
// an outbox message for each event that publishes to the outbox, in one transaction.
// A zero Version inserts; otherwise the update is conditional on the stored version
// and a stale aggregate yields domain.ErrConflict. Save bumps Version on success but
// never calls AcceptChanges.
type AccountStore interface {
	NextID(ctx context.Context) (int64, error)
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, accountID int64) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
}

// OutboxMessage is a pending side effect derived from a domain event.
type OutboxMessage struct {
	MessageID         uuid.UUID
	MessageType       string
	MessageData       []byte
	InvisibleUntil    time.Time
	ReceivesRemaining int
	CreatedAt         time.Time
}

// OutboxRepository is the dispatcher's view of the outbox.
// Claim is a single conditional update under skip-locked row locks: it returns only
// rows with receives remaining and an elapsed lease, pushing their lease to now+lease
// and spending one receive.
type OutboxRepository interface {
	Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]OutboxMessage, error)
	Delete(ctx context.Context, messageID uuid.UUID) error
	CountStuck(ctx context.Context) (int64, error)
}

// TokenLogRepository stores refresh-token rotation chains.
type TokenLogRepository interface {
	Insert(ctx context.Context, entry domain.TokenLog) error
	// Get returns domain.ErrTokenNotFound for unknown jtis.
	Get(ctx context.Context, jti uuid.UUID) (domain.TokenLog, error)
	// Rotate inserts next and points old at it in one transaction. It fails with
	// domain.ErrTokenAlreadyReplaced when old is already replaced or revoked.
	Rotate(ctx context.Context, oldJti uuid.UUID, next domain.TokenLog) error
	// RevokeChain revokes the full closure around jti and returns every chain member.
	RevokeChain(ctx context.Context, jti uuid.UUID, at time.Time) ([]domain.TokenLog, error)
	// RevokeAllForAccount revokes every live token of the account and returns their jtis.
	RevokeAllForAccount(ctx context.Context, accountID int64, at time.Time) ([]uuid.UUID, error)
}

// RecoveryRepository owns the one-time email verification and password reset tokens.
// Consume marks a token used and returns its account; a second consume gets domain.ErrTokenConsumed.
type RecoveryRepository interface {
	CreateEmailVerificationToken(ctx context.Context, token domain.RecoveryToken) error
	ConsumeEmailVerificationToken(ctx context.Context, tokenHash string, at time.Time) (int64, error)
	CreatePasswordResetToken(ctx context.Context, token domain.RecoveryToken) error
	ConsumePasswordResetToken(ctx context.Context, tokenHash string, at time.Time) (int64, error)
}

// CommunicationRepository tracks outgoing emails for webhook correlation.
type CommunicationRepository interface {
	Create(ctx context.Context, c domain.Communication) error
	Get(ctx context.Context, id uuid.UUID) (domain.Communication, error)
	// UpdateStatus applies only when the stored status still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.CommunicationStatus, providerMessageID, lastError string, at time.Time) (bool, error)
}
