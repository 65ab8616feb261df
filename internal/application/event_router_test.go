package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

func TestCheckRoutesCoversEveryEventType(t *testing.T) {
	require.NoError(t, application.CheckRoutes())
}

func TestRouteRejectsNilHandlers(t *testing.T) {
	_, err := application.NewEventRouter(nil, nil, time.Second)
	assert.Error(t, err)
}

func TestEventRouterRejectsNilEvent(t *testing.T) {
	h := newHarness(t)
	router, err := application.NewEventRouter(h.svc, h.logger, time.Second)
	require.NoError(t, err)

	err = router.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrUnhandledEvent)
}

func (h *harness) dispatcher(t *testing.T) *events.OutboxDispatcher {
	t.Helper()
	router, err := application.NewEventRouter(h.svc, h.logger, 5*time.Second)
	require.NoError(t, err)
	return events.NewOutboxDispatcher(h.logger, h.accounts, router, h.metrics, events.DispatcherConfig{
		BatchSize: 10,
		Lease:     time.Minute,
	})
}

func TestRegistrationDispatchSendsVerificationEmail(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")

	outbox := h.accounts.OutboxMessages()
	require.Len(t, outbox, 1)
	assert.Equal(t, string(domain.EventAccountCreated), outbox[0].MessageType)

	var payload struct {
		AccountID int64  `json:"account_id"`
		Email     string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(outbox[0].MessageData, &payload))
	assert.Equal(t, id, payload.AccountID)
	assert.Equal(t, "ada@example.com", payload.Email)

	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	assert.Empty(t, h.accounts.OutboxMessages())
	sent := h.email.ByTemplate(domain.TemplateVerifyEmail)
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].RecipientEmail)
	assert.NotEmpty(t, sent[0].Data["token"])

	require.NoError(t, h.svc.VerifyEmail(context.Background(), sent[0].Data["token"]))
	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	published := h.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, string(domain.EventAccountEmailVerified), published[0].EventType)
	assert.Equal(t, "1", published[0].PartitionKey)
}

func TestEventLogKeepsEveryEvent(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	h.login(t, "ada@example.com")

	var types []string
	for _, entry := range h.accounts.EventLog() {
		types = append(types, entry.EventType)
	}
	assert.Equal(t, []string{
		string(domain.EventAccountCreated),
		string(domain.EventAccountLoginSucceeded),
	}, types)
	assert.Len(t, h.accounts.OutboxMessages(), 1)
}

func TestFailedDispatchKeepsMessageForRetry(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	h.email.Err = errors.New("smtp unavailable")

	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	outbox := h.accounts.OutboxMessages()
	require.Len(t, outbox, 1)
	assert.Equal(t, h.accounts.ReceiveBudget-1, outbox[0].ReceivesRemaining)
	assert.True(t, outbox[0].InvisibleUntil.After(time.Now()))

	comms := h.comms.List(1)
	require.Len(t, comms, 1)
	assert.Equal(t, domain.CommunicationFailed, comms[0].Status)
	assert.Contains(t, comms[0].LastError, "smtp unavailable")
}

func TestLockoutDispatchSendsNotificationAndPublishes(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")
	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	for range domain.DefaultLockoutThreshold {
		_, _ = h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: "Wr0ng!Secret#"})
	}
	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	locked := h.email.ByTemplate(domain.TemplateAccountLocked)
	require.Len(t, locked, 1)
	assert.Equal(t, "5", locked[0].Data["failed_login_attempts"])

	published := h.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, string(domain.EventAccountLoginFailed), published[0].EventType)

	_, err := h.svc.UnlockAccount(context.Background(), adminActor, id)
	require.NoError(t, err)
	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))
	assert.Len(t, h.publisher.Published(), 2)
	assert.Empty(t, h.accounts.OutboxMessages())
}

func TestPasswordChangeDispatchNotifiesOwner(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")
	require.NoError(t, h.svc.ProcessPasswordReset(context.Background(), application.PasswordResetJob{Email: "ada@example.com"}))
	token := h.email.ByTemplate(domain.TemplatePasswordReset)[0].Data["token"]
	require.NoError(t, h.svc.ResetPassword(context.Background(), application.ResetPasswordRequest{Token: token, NewPassword: "N3w!Passphrase#"}))

	require.NoError(t, h.dispatcher(t).ProcessOnce(context.Background()))

	changed := h.email.ByTemplate(domain.TemplatePasswordChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, string(domain.PasswordChangedByReset), changed[0].Data["reason"])
	assert.Len(t, h.comms.List(id), 3)
}
