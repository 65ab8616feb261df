package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RevocationStore keeps short-lived markers that let access-token validation
// observe refresh-chain revocation without a database read.
// Marker TTLs follow the access-token lifetime.
type RevocationStore interface {
	MarkTokenRevoked(ctx context.Context, jti uuid.UUID, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti uuid.UUID) (bool, error)
	MarkAccountRevokedBefore(ctx context.Context, accountID int64, at time.Time, ttl time.Duration) error
	AccountRevokedBefore(ctx context.Context, accountID int64) (*time.Time, error)
}
