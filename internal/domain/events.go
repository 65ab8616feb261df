package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the discriminator persisted with every event and outbox message.
type EventType string

const (
	EventAccountCreated           EventType = "AccountCreated"
	EventAccountEmailVerified     EventType = "AccountEmailVerified"
	EventAccountPasswordChanged   EventType = "AccountPasswordChanged"
	EventAccountLoginSucceeded    EventType = "AccountLoginSucceeded"
	EventAccountLoginFailed       EventType = "AccountLoginFailed"
	EventAccountPermissionGranted EventType = "AccountPermissionGranted"
	EventAccountPermissionRevoked EventType = "AccountPermissionRevoked"
	EventAccountUnlocked          EventType = "AccountUnlocked"
	EventAccountDisabled          EventType = "AccountDisabled"
)

// EventTypes lists every DomainEvent variant. Routing tables are checked against it.
func EventTypes() []EventType {
	return []EventType{
		EventAccountCreated,
		EventAccountEmailVerified,
		EventAccountPasswordChanged,
		EventAccountLoginSucceeded,
		EventAccountLoginFailed,
		EventAccountPermissionGranted,
		EventAccountPermissionRevoked,
		EventAccountUnlocked,
		EventAccountDisabled,
	}
}

// EventMeta is shared by all account events.
type EventMeta struct {
	EventID    uuid.UUID `json:"event_id"`
	AccountID  int64     `json:"account_id"`
	OccurredAt time.Time `json:"occurred_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

func (m *EventMeta) Metadata() *EventMeta { return m }

func (*EventMeta) sealed() {}

func newEventMeta(accountID int64, now time.Time) EventMeta {
	return EventMeta{
		EventID:    NewEventID(),
		AccountID:  accountID,
		OccurredAt: now.UTC(),
	}
}

// NewEventID returns a UUIDv7; ids generated in one process sort in creation order.
func NewEventID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// DomainEvent is the closed set of facts an Account can record.
// Only types in this package can implement it.
type DomainEvent interface {
	Metadata() *EventMeta
	Type() EventType
	PublishToOutbox() bool
	sealed()
}

type AccountCreated struct {
	EventMeta
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

func (*AccountCreated) Type() EventType       { return EventAccountCreated }
func (*AccountCreated) PublishToOutbox() bool { return true }

type AccountEmailVerified struct {
	EventMeta
	Email string `json:"email"`
}

func (*AccountEmailVerified) Type() EventType       { return EventAccountEmailVerified }
func (*AccountEmailVerified) PublishToOutbox() bool { return true }

// PasswordChangeReason tells notification handlers how the secret was replaced.
type PasswordChangeReason string

const (
	PasswordChangedByUser  PasswordChangeReason = "changed"
	PasswordChangedByReset PasswordChangeReason = "reset"
)

type AccountPasswordChanged struct {
	EventMeta
	Email  string               `json:"email"`
	Reason PasswordChangeReason `json:"reason"`
}

func (*AccountPasswordChanged) Type() EventType       { return EventAccountPasswordChanged }
func (*AccountPasswordChanged) PublishToOutbox() bool { return true }

type AccountLoginSucceeded struct {
	EventMeta
	SecretRehashed bool `json:"secret_rehashed,omitempty"`
}

func (*AccountLoginSucceeded) Type() EventType       { return EventAccountLoginSucceeded }
func (*AccountLoginSucceeded) PublishToOutbox() bool { return false }

type AccountLoginFailed struct {
	EventMeta
	FailedLoginAttempts int  `json:"failed_login_attempts"`
	Locked              bool `json:"locked"`
}

func (*AccountLoginFailed) Type() EventType { return EventAccountLoginFailed }

// PublishToOutbox is true only on the attempt that locked the account.
func (e *AccountLoginFailed) PublishToOutbox() bool { return e.Locked }

type AccountPermissionGranted struct {
	EventMeta
	Permission string `json:"permission"`
}

func (*AccountPermissionGranted) Type() EventType       { return EventAccountPermissionGranted }
func (*AccountPermissionGranted) PublishToOutbox() bool { return true }

type AccountPermissionRevoked struct {
	EventMeta
	Permission string `json:"permission"`
}

func (*AccountPermissionRevoked) Type() EventType       { return EventAccountPermissionRevoked }
func (*AccountPermissionRevoked) PublishToOutbox() bool { return true }

type AccountUnlocked struct {
	EventMeta
}

func (*AccountUnlocked) Type() EventType       { return EventAccountUnlocked }
func (*AccountUnlocked) PublishToOutbox() bool { return true }

type AccountDisabled struct {
	EventMeta
	Reason string `json:"reason,omitempty"`
}

func (*AccountDisabled) Type() EventType       { return EventAccountDisabled }
func (*AccountDisabled) PublishToOutbox() bool { return true }

// NewEvent returns an empty event of the given type, ready to be decoded into.
func NewEvent(t EventType) (DomainEvent, error) {
	switch t {
	case EventAccountCreated:
		return &AccountCreated{}, nil
	case EventAccountEmailVerified:
		return &AccountEmailVerified{}, nil
	case EventAccountPasswordChanged:
		return &AccountPasswordChanged{}, nil
	case EventAccountLoginSucceeded:
		return &AccountLoginSucceeded{}, nil
	case EventAccountLoginFailed:
		return &AccountLoginFailed{}, nil
	case EventAccountPermissionGranted:
		return &AccountPermissionGranted{}, nil
	case EventAccountPermissionRevoked:
		return &AccountPermissionRevoked{}, nil
	case EventAccountUnlocked:
		return &AccountUnlocked{}, nil
	case EventAccountDisabled:
		return &AccountDisabled{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, string(t))
	}
}

// EncodeEvent serializes an event payload. The returned type is the discriminator.
func EncodeEvent(e DomainEvent) (EventType, []byte, error) {
	if e == nil {
		return "", nil, fmt.Errorf("%w: nil event", ErrInvalidInput)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return e.Type(), raw, nil
}

// DecodeEvent rebuilds the concrete event identified by messageType.
func DecodeEvent(messageType string, data []byte) (DomainEvent, error) {
	e, err := NewEvent(EventType(messageType))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", messageType, err)
	}
	return e, nil
}
