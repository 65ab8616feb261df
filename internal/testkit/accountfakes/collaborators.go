package accountfakes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// EmailSender records every message it is asked to send.
type EmailSender struct {
	mu   sync.Mutex
	Sent []ports.EmailMessage
	Err  error
}

func (s *EmailSender) Send(_ context.Context, msg ports.EmailMessage) (ports.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return ports.SendResult{}, s.Err
	}
	s.Sent = append(s.Sent, msg)
	return ports.SendResult{ProviderMessageID: "fake-" + msg.CommunicationID.String()}, nil
}

func (s *EmailSender) Messages() []ports.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.EmailMessage(nil), s.Sent...)
}

// ByTemplate returns the sent messages using template.
func (s *EmailSender) ByTemplate(template domain.EmailTemplate) []ports.EmailMessage {
	var out []ports.EmailMessage
	for _, m := range s.Messages() {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type PublishedEvent struct {
	EventType    string
	Payload      []byte
	PartitionKey string
}

// Publisher records integration events.
type Publisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
	Err    error
}

func (p *Publisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, PublishedEvent{EventType: eventType, Payload: payload, PartitionKey: partitionKey})
	return nil
}

func (p *Publisher) Published() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.Events...)
}

// RevocationStore keeps markers in maps and ignores TTLs.
type RevocationStore struct {
	mu            sync.Mutex
	Tokens        map[uuid.UUID]bool
	RevokedBefore map[int64]time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		Tokens:        make(map[uuid.UUID]bool),
		RevokedBefore: make(map[int64]time.Time),
	}
}

func (s *RevocationStore) MarkTokenRevoked(_ context.Context, jti uuid.UUID, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tokens[jti] = true
	return nil
}

func (s *RevocationStore) IsTokenRevoked(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Tokens[jti], nil
}

func (s *RevocationStore) MarkAccountRevokedBefore(_ context.Context, accountID int64, at time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RevokedBefore[accountID] = at
	return nil
}

func (s *RevocationStore) AccountRevokedBefore(_ context.Context, accountID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.RevokedBefore[accountID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// RateLimiter allows Limit requests per key and ignores windows.
type RateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{counts: make(map[string]int)}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
	return r.counts[key] <= limit, nil
}
