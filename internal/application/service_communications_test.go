package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

func (h *harness) sentCommunication(t *testing.T) domain.Communication {
	t.Helper()
	id := h.register(t, "ada@example.com")
	h.verificationToken(t, id)
	comms := h.comms.List(id)
	require.Len(t, comms, 1)
	return comms[0]
}

// drainWebhooks applies every queued delivery update in arrival order.
func (h *harness) drainWebhooks(t *testing.T) {
	t.Helper()
	for h.webhookQueue.Len() > 0 {
		update, err := h.webhookQueue.Next(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.svc.ApplyDeliveryUpdate(context.Background(), update))
	}
}

func TestDeliveryUpdatesAdvanceStatus(t *testing.T) {
	h := newHarness(t)
	comm := h.sentCommunication(t)

	require.NoError(t, h.svc.EnqueueDeliveryUpdate(context.Background(), "SES", application.WebhookEvent{
		CommunicationID:   comm.ID.String(),
		Status:            "Delivered",
		ProviderMessageID: "ses-1",
	}))
	h.drainWebhooks(t)

	got, err := h.comms.Get(context.Background(), comm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationDelivered, got.Status)
	assert.Equal(t, "ses-1", got.ProviderMessageID)
}

func TestOutOfOrderDeliveryUpdatesAreIgnored(t *testing.T) {
	h := newHarness(t)
	comm := h.sentCommunication(t)
	at := h.clock.Now()

	for _, status := range []string{"opened", "delivered", "sent"} {
		require.NoError(t, h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", application.WebhookEvent{
			CommunicationID: comm.ID.String(),
			Status:          status,
			OccurredAt:      &at,
		}))
	}
	h.drainWebhooks(t)

	got, err := h.comms.Get(context.Background(), comm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationOpened, got.Status)
}

func TestBouncedCommunicationIsFinal(t *testing.T) {
	h := newHarness(t)
	comm := h.sentCommunication(t)

	for _, status := range []string{"bounced", "delivered"} {
		require.NoError(t, h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", application.WebhookEvent{
			CommunicationID: comm.ID.String(),
			Status:          status,
			Reason:          "mailbox full",
		}))
	}
	h.drainWebhooks(t)

	got, err := h.comms.Get(context.Background(), comm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationBounced, got.Status)
	assert.Equal(t, "mailbox full", got.LastError)
}

func TestUnknownCommunicationWebhookIsIgnored(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ApplyDeliveryUpdate(context.Background(), domain.DeliveryUpdate{
		CommunicationID: uuid.New(),
		Status:          domain.CommunicationDelivered,
		OccurredAt:      time.Now(),
	})
	assert.NoError(t, err)
}

func TestEnqueueDeliveryUpdateValidatesBody(t *testing.T) {
	h := newHarness(t)

	err := h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", application.WebhookEvent{CommunicationID: "nope", Status: "delivered"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", application.WebhookEvent{CommunicationID: uuid.NewString(), Status: "teleported"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, h.webhookQueue.Len())
}

func TestEnqueueDeliveryUpdateRejectsWhenQueueFull(t *testing.T) {
	h := newHarness(t)
	event := application.WebhookEvent{CommunicationID: uuid.NewString(), Status: "delivered"}

	for i := 0; i < h.webhookQueue.Cap(); i++ {
		require.NoError(t, h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", event))
	}
	err := h.svc.EnqueueDeliveryUpdate(context.Background(), "ses", event)
	assert.ErrorIs(t, err, domain.ErrServiceBusy)
}
