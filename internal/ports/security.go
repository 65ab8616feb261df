package ports

import (
	"time"

	"github.com/google/uuid"
)

// VerifyResult is the outcome of a password check.
type VerifyResult int

const (
	VerifyFailed VerifyResult = iota
	VerifySuccess
	// VerifySuccessRehashNeeded means the secret matched a hash made with outdated parameters.
	VerifySuccessRehashNeeded
)

type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) VerifyResult
}

// TokenUse separates access tokens from refresh tokens signed by the same key.
type TokenUse string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

// TokenClaims is the adapter-neutral claim set.
// RefreshID ties an access token to the refresh token (jti) it was issued with.
type TokenClaims struct {
	AccountID   int64     `json:"account_id"`
	Email       string    `json:"email"`
	Permissions []string  `json:"permissions,omitempty"`
	Use         TokenUse  `json:"use"`
	RefreshID   uuid.UUID `json:"rid"`
	TokenID     uuid.UUID `json:"jti"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	KeyID       string    `json:"kid"`
}

// JwtIssuer signs and validates tokens. It holds no per-token state.
type JwtIssuer interface {
	// Generate signs claims valid for lifetime. A zero TokenID is replaced with a fresh one.
	Generate(claims TokenClaims, lifetime time.Duration) (token string, expiresAt time.Time, tokenID uuid.UUID, err error)
	Validate(token string) (TokenClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
