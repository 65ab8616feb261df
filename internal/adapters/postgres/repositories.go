package postgres

import (
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"gorm.io/gorm"
)

// DefaultReceiveBudget is how many times an outbox message may be claimed.
const DefaultReceiveBudget = 3

type Repositories struct {
	Accounts       ports.AccountStore
	Outbox         ports.OutboxRepository
	TokenLog       ports.TokenLogRepository
	Recovery       ports.RecoveryRepository
	Communications ports.CommunicationRepository
}

// NewRepositories wires every store onto one pool. receiveBudget seeds new
// outbox rows; a non-positive value uses DefaultReceiveBudget.
func NewRepositories(db *gorm.DB, receiveBudget int) Repositories {
	if receiveBudget <= 0 {
		receiveBudget = DefaultReceiveBudget
	}
	return Repositories{
		Accounts:       &accountRepository{db: db, receiveBudget: receiveBudget, nowFn: utcNow},
		Outbox:         &outboxRepository{db: db},
		TokenLog:       &tokenLogRepository{db: db},
		Recovery:       &recoveryRepository{db: db},
		Communications: &communicationRepository{db: db},
	}
}

func utcNow() time.Time { return time.Now().UTC() }
