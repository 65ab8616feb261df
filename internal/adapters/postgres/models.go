package postgres

import (
	"time"

	"github.com/google/uuid"
)

type accountModel struct {
	AccountID           int64      `gorm:"column:account_id;primaryKey;autoIncrement:false"`
	Email               string     `gorm:"column:email"`
	SecretHash          string     `gorm:"column:secret_hash"`
	SecretHashedOn      time.Time  `gorm:"column:secret_hashed_on"`
	GivenName           string     `gorm:"column:given_name"`
	FamilyName          string     `gorm:"column:family_name"`
	CreatedOn           time.Time  `gorm:"column:created_on"`
	EmailVerifiedOn     *time.Time `gorm:"column:email_verified_on"`
	DisabledOn          *time.Time `gorm:"column:disabled_on"`
	LockedOn            *time.Time `gorm:"column:locked_on"`
	LastLogon           *time.Time `gorm:"column:last_logon"`
	FailedLoginAttempts int        `gorm:"column:failed_login_attempts"`
	Permissions         string     `gorm:"column:permissions;type:jsonb"`
	Version             int64      `gorm:"column:version"`
}

func (accountModel) TableName() string { return "accounts" }

type accountEventModel struct {
	EventID    uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey"`
	AccountID  int64     `gorm:"column:account_id"`
	EventType  string    `gorm:"column:event_type"`
	EventData  string    `gorm:"column:event_data;type:jsonb"`
	TraceID    string    `gorm:"column:trace_id"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
}

func (accountEventModel) TableName() string { return "account_event_log" }

type outboxModel struct {
	MessageID         uuid.UUID `gorm:"column:message_id;type:uuid;primaryKey"`
	MessageType       string    `gorm:"column:message_type"`
	MessageData       string    `gorm:"column:message_data;type:jsonb"`
	InvisibleUntil    time.Time `gorm:"column:invisible_until"`
	ReceivesRemaining int       `gorm:"column:receives_remaining"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (outboxModel) TableName() string { return "outbox" }

type tokenLogModel struct {
	Jti        uuid.UUID  `gorm:"column:jti;type:uuid;primaryKey"`
	AccountID  int64      `gorm:"column:account_id"`
	ReplacedBy *uuid.UUID `gorm:"column:replaced_by;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
}

func (tokenLogModel) TableName() string { return "token_log" }

type recoveryTokenModel struct {
	TokenHash  string     `gorm:"column:token_hash;primaryKey"`
	AccountID  int64      `gorm:"column:account_id"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	ExpiresAt  time.Time  `gorm:"column:expires_at"`
	ConsumedAt *time.Time `gorm:"column:consumed_at"`
}

const (
	emailVerificationTable = "email_verification_tokens"
	passwordResetTable     = "password_reset_tokens"
)

type communicationModel struct {
	CommunicationID   uuid.UUID `gorm:"column:communication_id;type:uuid;primaryKey"`
	AccountID         int64     `gorm:"column:account_id"`
	Template          string    `gorm:"column:template"`
	Recipient         string    `gorm:"column:recipient"`
	Status            string    `gorm:"column:status"`
	ProviderMessageID string    `gorm:"column:provider_message_id"`
	LastError         string    `gorm:"column:last_error"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (communicationModel) TableName() string { return "communications" }
