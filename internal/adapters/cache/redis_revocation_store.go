package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRevocationStore stores revoked refresh-chain members and per-account
// revoked-before cut-offs with TTL.
type RedisRevocationStore struct {
	client *redis.Client
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client}
}

func (s *RedisRevocationStore) MarkTokenRevoked(ctx context.Context, jti uuid.UUID, ttl time.Duration) error {
	return s.client.Set(ctx, revokedTokenKey(jti), "1", positiveTTL(ttl)).Err()
}

func (s *RedisRevocationStore) IsTokenRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, revokedTokenKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAccountRevokedBefore never moves an existing cut-off backwards.
func (s *RedisRevocationStore) MarkAccountRevokedBefore(ctx context.Context, accountID int64, at time.Time, ttl time.Duration) error {
	key := revokedBeforeKey(accountID)
	unix := at.Unix()
	current, err := s.AccountRevokedBefore(ctx, accountID)
	if err != nil {
		return err
	}
	if current != nil && current.Unix() > unix {
		unix = current.Unix()
	}
	return s.client.Set(ctx, key, unix, positiveTTL(ttl)).Err()
}

func (s *RedisRevocationStore) AccountRevokedBefore(ctx context.Context, accountID int64) (*time.Time, error) {
	raw, err := s.client.Get(ctx, revokedBeforeKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(unix, 0).UTC()
	return &t, nil
}

func revokedTokenKey(jti uuid.UUID) string {
	return keyPrefix + "revoked:rid:" + jti.String()
}

func revokedBeforeKey(accountID int64) string {
	return keyPrefix + "revoked:account:" + strconv.FormatInt(accountID, 10)
}

func positiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Hour
	}
	return ttl
}
