package security

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// BcryptHasher implements ports.PasswordHasher with bcrypt.
// Hashes created with a lower cost than configured verify as SuccessRehashNeeded.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(hash, secret string) ports.VerifyResult {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ports.VerifyFailed
	}
	if cost, err := bcrypt.Cost([]byte(hash)); err == nil && cost < h.cost {
		return ports.VerifySuccessRehashNeeded
	}
	return ports.VerifySuccess
}
