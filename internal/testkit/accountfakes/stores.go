package accountfakes

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// EventLogEntry mirrors one account_event_log row.
type EventLogEntry struct {
	EventID    uuid.UUID
	AccountID  int64
	EventType  string
	EventData  []byte
	OccurredAt time.Time
}

// AccountStore is an in-memory AccountStore and OutboxRepository sharing one lock,
// so Save writes the account, event log and outbox atomically like the SQL adapter.
type AccountStore struct {
	mu            sync.Mutex
	nextID        int64
	accounts      map[int64]domain.Account
	emails        map[string]int64
	events        []EventLogEntry
	outbox        map[uuid.UUID]ports.OutboxMessage
	ReceiveBudget int
	// Now stamps new outbox rows; it defaults to wall clock.
	Now func() time.Time

	SaveErr  error
	ClaimErr error
}

// NewAccountStore constructs an AccountStore fake with initialized state maps.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:      make(map[int64]domain.Account),
		emails:        make(map[string]int64),
		outbox:        make(map[uuid.UUID]ports.OutboxMessage),
		ReceiveBudget: 3,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountStore) NextID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *AccountStore) Save(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}

	stored, exists := s.accounts[a.ID]
	if a.Version == 0 {
		if exists {
			return fmt.Errorf("%w: account %d exists", domain.ErrConflict, a.ID)
		}
		if _, taken := s.emails[a.Email]; taken {
			return fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
	} else if !exists {
		return domain.ErrNotFound
	} else if stored.Version != a.Version {
		return fmt.Errorf("%w: stale account version", domain.ErrConflict)
	}

	var events []EventLogEntry
	outbox := map[uuid.UUID]ports.OutboxMessage{}
	for _, e := range a.PendingEvents() {
		eventType, data, err := domain.EncodeEvent(e)
		if err != nil {
			return err
		}
		meta := e.Metadata()
		events = append(events, EventLogEntry{
			EventID:    meta.EventID,
			AccountID:  meta.AccountID,
			EventType:  string(eventType),
			EventData:  data,
			OccurredAt: meta.OccurredAt,
		})
		if e.PublishToOutbox() {
			outbox[meta.EventID] = ports.OutboxMessage{
				MessageID:         meta.EventID,
				MessageType:       string(eventType),
				MessageData:       data,
				InvisibleUntil:    s.Now(),
				ReceivesRemaining: s.ReceiveBudget,
				CreatedAt:         s.Now(),
			}
		}
	}

	a.Version++
	cp := cloneAccount(a)
	if exists && stored.Email != cp.Email {
		delete(s.emails, stored.Email)
	}
	s.accounts[cp.ID] = *cp
	s.emails[cp.Email] = cp.ID
	s.events = append(s.events, events...)
	for id, msg := range outbox {
		s.outbox[id] = msg
	}
	return nil
}

func (s *AccountStore) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAccount(&a), nil
}

func (s *AccountStore) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a := s.accounts[id]
	return cloneAccount(&a), nil
}

// Claim mirrors the SQL claim: the lock plays the role of FOR UPDATE SKIP LOCKED.
func (s *AccountStore) Claim(_ context.Context, now time.Time, limit int, lease time.Duration) ([]ports.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClaimErr != nil {
		return nil, s.ClaimErr
	}

	var ids []uuid.UUID
	for id, msg := range s.outbox {
		if msg.ReceivesRemaining > 0 && !msg.InvisibleUntil.After(now) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	claimed := make([]ports.OutboxMessage, 0, len(ids))
	for _, id := range ids {
		msg := s.outbox[id]
		msg.InvisibleUntil = now.Add(lease)
		msg.ReceivesRemaining--
		s.outbox[id] = msg
		claimed = append(claimed, msg)
	}
	return claimed, nil
}

func (s *AccountStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbox, id)
	return nil
}

func (s *AccountStore) CountStuck(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msg := range s.outbox {
		if msg.ReceivesRemaining <= 0 {
			n++
		}
	}
	return n, nil
}

// PutOutboxMessage seeds a message directly.
func (s *AccountStore) PutOutboxMessage(msg ports.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[msg.MessageID] = msg
}

// OutboxMessages returns a snapshot ordered by message id.
func (s *AccountStore) OutboxMessages() []ports.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, msg := range s.outbox {
		out = append(out, msg)
	}
	slices.SortFunc(out, func(a, b ports.OutboxMessage) int { return bytes.Compare(a.MessageID[:], b.MessageID[:]) })
	return out
}

func (s *AccountStore) EventLog() []EventLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func cloneAccount(a *domain.Account) *domain.Account {
	cp := *a
	cp.AcceptChanges()
	cp.Permissions = slices.Clone(a.Permissions)
	return &cp
}

// TokenLogStore is an in-memory TokenLogRepository.
type TokenLogStore struct {
	mu      sync.Mutex
	Entries map[uuid.UUID]domain.TokenLog
}

func NewTokenLogStore() *TokenLogStore {
	return &TokenLogStore{Entries: make(map[uuid.UUID]domain.TokenLog)}
}

func (s *TokenLogStore) Insert(_ context.Context, entry domain.TokenLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Entries[entry.Jti]; ok {
		return domain.ErrConflict
	}
	s.Entries[entry.Jti] = entry
	return nil
}

func (s *TokenLogStore) Get(_ context.Context, jti uuid.UUID) (domain.TokenLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.Entries[jti]
	if !ok {
		return domain.TokenLog{}, domain.ErrTokenNotFound
	}
	return entry, nil
}

func (s *TokenLogStore) Rotate(_ context.Context, oldJti uuid.UUID, next domain.TokenLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.Entries[oldJti]
	if !ok || old.ReplacedBy != nil || old.RevokedAt != nil {
		return domain.ErrTokenAlreadyReplaced
	}
	if _, dup := s.Entries[next.Jti]; dup {
		return domain.ErrConflict
	}
	s.Entries[next.Jti] = next
	nextJti := next.Jti
	old.ReplacedBy = &nextJti
	s.Entries[oldJti] = old
	return nil
}

func (s *TokenLogStore) RevokeChain(_ context.Context, jti uuid.UUID, at time.Time) ([]domain.TokenLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.Entries[jti]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	var sameAccount []domain.TokenLog
	for _, e := range s.Entries {
		if e.AccountID == start.AccountID {
			sameAccount = append(sameAccount, e)
		}
	}
	var members []domain.TokenLog
	for _, id := range domain.ChainClosure(sameAccount, jti) {
		e, ok := s.Entries[id]
		if !ok {
			continue
		}
		if e.RevokedAt == nil {
			revokedAt := at
			e.RevokedAt = &revokedAt
			s.Entries[id] = e
		}
		members = append(members, e)
	}
	return members, nil
}

func (s *TokenLogStore) RevokeAllForAccount(_ context.Context, accountID int64, at time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jtis []uuid.UUID
	for id, e := range s.Entries {
		if e.AccountID == accountID && e.RevokedAt == nil {
			revokedAt := at
			e.RevokedAt = &revokedAt
			s.Entries[id] = e
			jtis = append(jtis, id)
		}
	}
	return jtis, nil
}

// RecoveryStore is an in-memory RecoveryRepository.
type RecoveryStore struct {
	mu                 sync.Mutex
	VerificationTokens map[string]domain.RecoveryToken
	ResetTokens        map[string]domain.RecoveryToken
}

func NewRecoveryStore() *RecoveryStore {
	return &RecoveryStore{
		VerificationTokens: make(map[string]domain.RecoveryToken),
		ResetTokens:        make(map[string]domain.RecoveryToken),
	}
}

func (s *RecoveryStore) CreateEmailVerificationToken(_ context.Context, t domain.RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VerificationTokens[t.TokenHash] = t
	return nil
}

func (s *RecoveryStore) ConsumeEmailVerificationToken(_ context.Context, hash string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consume(s.VerificationTokens, hash, at)
}

func (s *RecoveryStore) CreatePasswordResetToken(_ context.Context, t domain.RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetTokens[t.TokenHash] = t
	return nil
}

func (s *RecoveryStore) ConsumePasswordResetToken(_ context.Context, hash string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consume(s.ResetTokens, hash, at)
}

func consume(tokens map[string]domain.RecoveryToken, hash string, at time.Time) (int64, error) {
	t, ok := tokens[hash]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if err := t.Usable(at); err != nil {
		return 0, err
	}
	consumedAt := at
	t.ConsumedAt = &consumedAt
	tokens[hash] = t
	return t.AccountID, nil
}

// CommunicationStore is an in-memory CommunicationRepository.
type CommunicationStore struct {
	mu    sync.Mutex
	Items map[uuid.UUID]domain.Communication
}

func NewCommunicationStore() *CommunicationStore {
	return &CommunicationStore{Items: make(map[uuid.UUID]domain.Communication)}
}

func (s *CommunicationStore) Create(_ context.Context, c domain.Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Items[c.ID]; ok {
		return domain.ErrConflict
	}
	s.Items[c.ID] = c
	return nil
}

func (s *CommunicationStore) Get(_ context.Context, id uuid.UUID) (domain.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Items[id]
	if !ok {
		return domain.Communication{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *CommunicationStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.CommunicationStatus, providerMessageID, lastError string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Items[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if providerMessageID != "" {
		c.ProviderMessageID = providerMessageID
	}
	if lastError != "" {
		c.LastError = lastError
	}
	c.UpdatedAt = at
	s.Items[id] = c
	return true, nil
}

// List returns every communication for an account.
func (s *CommunicationStore) List(accountID int64) []domain.Communication {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Communication
	for _, c := range s.Items {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Communication) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
