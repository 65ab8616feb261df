package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/testkit/accountfakes"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/worker"
)

const testPassword = "Str0ng!Secret#"

var adminActor = ports.TokenClaims{AccountID: 9000, Permissions: []string{"accounts:admin"}}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc          *application.Service
	signer       *security.JWTSigner
	accounts     *accountfakes.AccountStore
	tokenLog     *accountfakes.TokenLogStore
	recovery     *accountfakes.RecoveryStore
	comms        *accountfakes.CommunicationStore
	revocations  *accountfakes.RevocationStore
	email        *accountfakes.EmailSender
	publisher    *accountfakes.Publisher
	resetQueue   *worker.Queue[application.PasswordResetJob]
	webhookQueue *worker.Queue[domain.DeliveryUpdate]
	registry     *prometheus.Registry
	metrics      *observability.Metrics
	clock        *fakeClock
	logger       *slog.Logger
}

func newHarness(t *testing.T, configure ...func(*application.Dependencies)) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	signer, err := security.NewEphemeralJWTSigner("test-kid", "accounts-test")
	require.NoError(t, err)
	signer.WithClock(clock.Now)

	cfg := application.Config{
		RegisterRateLimit: 100,
		ResetRequestLimit: 100,
		PublicBaseURL:     "https://accounts.example.com",
	}
	registry := prometheus.NewRegistry()
	h := &harness{
		signer:       signer,
		accounts:     accountfakes.NewAccountStore(),
		tokenLog:     accountfakes.NewTokenLogStore(),
		recovery:     accountfakes.NewRecoveryStore(),
		comms:        accountfakes.NewCommunicationStore(),
		revocations:  accountfakes.NewRevocationStore(),
		email:        &accountfakes.EmailSender{},
		publisher:    &accountfakes.Publisher{},
		resetQueue:   worker.NewQueue[application.PasswordResetJob]("password_reset", 2),
		webhookQueue: worker.NewQueue[domain.DeliveryUpdate]("email_webhook", 8),
		registry:     registry,
		metrics:      observability.NewMetrics(registry),
		clock:        clock,
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	deps := application.Dependencies{
		Config:         cfg,
		Logger:         h.logger,
		Accounts:       h.accounts,
		TokenLog:       h.tokenLog,
		Recovery:       h.recovery,
		Communications: h.comms,
		Revocations:    h.revocations,
		RateLimits:     accountfakes.NewRateLimiter(),
		Hasher:         security.NewBcryptHasher(bcrypt.MinCost),
		Tokens:         h.signer,
		Email:          h.email,
		Publisher:      h.publisher,
		ResetQueue:     h.resetQueue,
		WebhookQueue:   h.webhookQueue,
		Metrics:        h.metrics,
		Clock:          clock.Now,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	h.svc = application.NewService(deps)
	return h
}

func (h *harness) register(t *testing.T, email string) int64 {
	t.Helper()
	res, err := h.svc.Register(context.Background(), application.RegisterRequest{
		Email:      email,
		Password:   testPassword,
		GivenName:  "Ada",
		FamilyName: "Lovelace",
	})
	require.NoError(t, err)
	return res.AccountID
}

func (h *harness) login(t *testing.T, email string) application.TokenResponse {
	t.Helper()
	res, err := h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) account(t *testing.T, id int64) *domain.Account {
	t.Helper()
	a, err := h.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

// outboxTypes lists the message types currently in the outbox.
func (h *harness) outboxTypes() []string {
	var out []string
	for _, msg := range h.accounts.OutboxMessages() {
		out = append(out, msg.MessageType)
	}
	return out
}
