package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultLockoutThreshold is the number of consecutive failed logins that locks an account.
const DefaultLockoutThreshold = 5

// Account is the aggregate root for identity and security state.
// Mutators validate, change state, and buffer exactly one event. Persisting the
// row together with its pending events is the store's job; AcceptChanges is
// called once that transaction has committed.
type Account struct {
	ID                  int64
	Email               string
	SecretHash          string
	SecretHashedOn      time.Time
	GivenName           string
	FamilyName          string
	CreatedOn           time.Time
	EmailVerifiedOn     *time.Time
	DisabledOn          *time.Time
	LockedOn            *time.Time
	LastLogon           *time.Time
	FailedLoginAttempts int
	Permissions         []string
	// Version is the optimistic concurrency token of the persisted row.
	Version int64

	pending []DomainEvent
}

// CreateUser builds a new account and records AccountCreated.
func CreateUser(id int64, email, secretHash, givenName, familyName string, now time.Time) (*Account, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: account id must be positive", ErrInvalidInput)
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(secretHash) == "" {
		return nil, fmt.Errorf("%w: secret hash is required", ErrInvalidInput)
	}
	given, err := normalizeName("given_name", givenName)
	if err != nil {
		return nil, err
	}
	family, err := normalizeName("family_name", familyName)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	a := &Account{
		ID:             id,
		Email:          normalized,
		SecretHash:     secretHash,
		SecretHashedOn: now,
		GivenName:      given,
		FamilyName:     family,
		CreatedOn:      now,
	}
	a.record(&AccountCreated{
		EventMeta:  newEventMeta(id, now),
		Email:      normalized,
		GivenName:  given,
		FamilyName: family,
	})
	return a, nil
}

func (a *Account) IsLocked() bool        { return a.LockedOn != nil }
func (a *Account) IsDisabled() bool      { return a.DisabledOn != nil }
func (a *Account) IsEmailVerified() bool { return a.EmailVerifiedOn != nil }

// IsChanged reports whether the aggregate holds events that are not yet persisted.
func (a *Account) IsChanged() bool { return len(a.pending) > 0 }

// PendingEvents returns the uncommitted events in the order they were recorded.
func (a *Account) PendingEvents() []DomainEvent {
	return slices.Clone(a.pending)
}

// AcceptChanges clears the uncommitted events. Call only after a successful save.
func (a *Account) AcceptChanges() {
	a.pending = nil
}

// DisplayName is used as the recipient name on outgoing mail.
func (a *Account) DisplayName() string {
	return strings.TrimSpace(a.GivenName + " " + a.FamilyName)
}

func (a *Account) HasPermission(permission string) bool {
	return slices.Contains(a.Permissions, permission)
}

// CheckActive returns the authorization error for a disabled or locked account.
// Disabled takes precedence.
func (a *Account) CheckActive() error {
	if a.IsDisabled() {
		return ErrAccountDisabled
	}
	if a.IsLocked() {
		return ErrAccountLocked
	}
	return nil
}

// Login records a successful authentication. A non-empty rehashedSecret replaces
// the stored hash, which happens when the hasher reported an outdated cost.
func (a *Account) Login(now time.Time, rehashedSecret string) (*AccountLoginSucceeded, error) {
	if err := a.CheckActive(); err != nil {
		return nil, err
	}
	now = now.UTC()
	a.FailedLoginAttempts = 0
	a.LastLogon = &now
	if rehashedSecret != "" {
		a.SecretHash = rehashedSecret
		a.SecretHashedOn = now
	}
	e := &AccountLoginSucceeded{
		EventMeta:      newEventMeta(a.ID, now),
		SecretRehashed: rehashedSecret != "",
	}
	a.record(e)
	return e, nil
}

// FailLogin counts a failed authentication and locks the account on the attempt
// that reaches threshold. Already locked accounts keep counting but are not locked twice.
func (a *Account) FailLogin(now time.Time, threshold int) (*AccountLoginFailed, error) {
	if a.IsDisabled() {
		return nil, ErrAccountDisabled
	}
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	now = now.UTC()
	a.FailedLoginAttempts++
	locked := false
	if !a.IsLocked() && a.FailedLoginAttempts >= threshold {
		a.LockedOn = &now
		locked = true
	}
	e := &AccountLoginFailed{
		EventMeta:           newEventMeta(a.ID, now),
		FailedLoginAttempts: a.FailedLoginAttempts,
		Locked:              locked,
	}
	a.record(e)
	return e, nil
}

// ChangePassword swaps the secret hash. The caller is responsible for revoking
// outstanding refresh tokens.
func (a *Account) ChangePassword(newSecretHash string, reason PasswordChangeReason, now time.Time) (*AccountPasswordChanged, error) {
	if a.IsDisabled() {
		return nil, ErrAccountDisabled
	}
	if strings.TrimSpace(newSecretHash) == "" {
		return nil, fmt.Errorf("%w: secret hash is required", ErrInvalidInput)
	}
	if reason == "" {
		reason = PasswordChangedByUser
	}
	now = now.UTC()
	a.SecretHash = newSecretHash
	a.SecretHashedOn = now
	e := &AccountPasswordChanged{
		EventMeta: newEventMeta(a.ID, now),
		Email:     a.Email,
		Reason:    reason,
	}
	a.record(e)
	return e, nil
}

func (a *Account) VerifyEmail(now time.Time) (*AccountEmailVerified, error) {
	if a.IsDisabled() {
		return nil, ErrAccountDisabled
	}
	if a.IsEmailVerified() {
		return nil, fmt.Errorf("%w: email already verified", ErrInvalidTransition)
	}
	now = now.UTC()
	a.EmailVerifiedOn = &now
	e := &AccountEmailVerified{
		EventMeta: newEventMeta(a.ID, now),
		Email:     a.Email,
	}
	a.record(e)
	return e, nil
}

func (a *Account) Grant(permission string, now time.Time) (*AccountPermissionGranted, error) {
	permission, err := normalizePermission(permission)
	if err != nil {
		return nil, err
	}
	if a.IsDisabled() {
		return nil, ErrAccountDisabled
	}
	if a.HasPermission(permission) {
		return nil, fmt.Errorf("%w: permission %q already granted", ErrInvalidTransition, permission)
	}
	now = now.UTC()
	a.Permissions = append(slices.Clone(a.Permissions), permission)
	slices.Sort(a.Permissions)
	e := &AccountPermissionGranted{
		EventMeta:  newEventMeta(a.ID, now),
		Permission: permission,
	}
	a.record(e)
	return e, nil
}

// Revoke is allowed on disabled accounts so administrators can strip access.
func (a *Account) Revoke(permission string, now time.Time) (*AccountPermissionRevoked, error) {
	permission, err := normalizePermission(permission)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(a.Permissions, permission)
	if idx < 0 {
		return nil, fmt.Errorf("%w: permission %q not granted", ErrInvalidTransition, permission)
	}
	now = now.UTC()
	a.Permissions = slices.Delete(slices.Clone(a.Permissions), idx, idx+1)
	e := &AccountPermissionRevoked{
		EventMeta:  newEventMeta(a.ID, now),
		Permission: permission,
	}
	a.record(e)
	return e, nil
}

// Unlock is the administrative way out of the Locked state.
func (a *Account) Unlock(now time.Time) (*AccountUnlocked, error) {
	if !a.IsLocked() {
		return nil, fmt.Errorf("%w: account is not locked", ErrInvalidTransition)
	}
	now = now.UTC()
	a.LockedOn = nil
	a.FailedLoginAttempts = 0
	e := &AccountUnlocked{EventMeta: newEventMeta(a.ID, now)}
	a.record(e)
	return e, nil
}

func (a *Account) Disable(reason string, now time.Time) (*AccountDisabled, error) {
	if a.IsDisabled() {
		return nil, fmt.Errorf("%w: account already disabled", ErrInvalidTransition)
	}
	now = now.UTC()
	a.DisabledOn = &now
	e := &AccountDisabled{
		EventMeta: newEventMeta(a.ID, now),
		Reason:    strings.TrimSpace(reason),
	}
	a.record(e)
	return e, nil
}

func (a *Account) record(e DomainEvent) {
	a.pending = append(a.pending, e)
}

func normalizePermission(permission string) (string, error) {
	permission = strings.ToLower(strings.TrimSpace(permission))
	if permission == "" || len(permission) > 64 || strings.ContainsAny(permission, " \t\r\n") {
		return "", fmt.Errorf("%w: invalid permission", ErrInvalidInput)
	}
	return permission, nil
}
