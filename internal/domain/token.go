package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenLog tracks one issued refresh token. Rotations link entries through
// ReplacedBy, forming one chain per login session.
type TokenLog struct {
	Jti        uuid.UUID
	AccountID  int64
	ReplacedBy *uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
}

func (t TokenLog) IsRevoked() bool  { return t.RevokedAt != nil }
func (t TokenLog) IsReplaced() bool { return t.ReplacedBy != nil }

func (t TokenLog) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// CheckRefreshable classifies a presented token. Revocation is checked before
// expiry, and replacement last, so only live rotated tokens report reuse.
func (t TokenLog) CheckRefreshable(now time.Time) error {
	switch {
	case t.IsRevoked():
		return ErrTokenRevoked
	case t.IsExpired(now):
		return ErrTokenExpired
	case t.IsReplaced():
		return ErrTokenReuseDetected
	}
	return nil
}

// ChainClosure returns the jtis of every entry connected to start through
// ReplacedBy links, walking successors and predecessors. Ancestors come first.
func ChainClosure(entries []TokenLog, start uuid.UUID) []uuid.UUID {
	byJti := make(map[uuid.UUID]TokenLog, len(entries))
	predecessor := make(map[uuid.UUID]uuid.UUID, len(entries))
	for _, e := range entries {
		byJti[e.Jti] = e
		if e.ReplacedBy != nil {
			predecessor[*e.ReplacedBy] = e.Jti
		}
	}
	if _, ok := byJti[start]; !ok {
		return nil
	}

	seen := map[uuid.UUID]struct{}{start: {}}
	var ancestors []uuid.UUID
	for cur := start; ; {
		prev, ok := predecessor[cur]
		if !ok {
			break
		}
		if _, dup := seen[prev]; dup {
			break
		}
		seen[prev] = struct{}{}
		ancestors = append(ancestors, prev)
		cur = prev
	}

	out := make([]uuid.UUID, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i])
	}
	out = append(out, start)

	for cur := byJti[start]; cur.ReplacedBy != nil; {
		next := *cur.ReplacedBy
		if _, dup := seen[next]; dup {
			break
		}
		seen[next] = struct{}{}
		out = append(out, next)
		entry, ok := byJti[next]
		if !ok {
			break
		}
		cur = entry
	}
	return out
}
