package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []DomainEvent {
	meta := func() EventMeta {
		m := newEventMeta(42, testNow)
		m.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		return m
	}
	return []DomainEvent{
		&AccountCreated{EventMeta: meta(), Email: "a@b.com", GivenName: "Ada", FamilyName: "Lovelace"},
		&AccountEmailVerified{EventMeta: meta(), Email: "a@b.com"},
		&AccountPasswordChanged{EventMeta: meta(), Email: "a@b.com", Reason: PasswordChangedByReset},
		&AccountLoginSucceeded{EventMeta: meta(), SecretRehashed: true},
		&AccountLoginFailed{EventMeta: meta(), FailedLoginAttempts: 5, Locked: true},
		&AccountPermissionGranted{EventMeta: meta(), Permission: "accounts:admin"},
		&AccountPermissionRevoked{EventMeta: meta(), Permission: "accounts:admin"},
		&AccountUnlocked{EventMeta: meta()},
		&AccountDisabled{EventMeta: meta(), Reason: "fraud"},
	}
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	for _, original := range sampleEvents() {
		t.Run(string(original.Type()), func(t *testing.T) {
			messageType, data, err := EncodeEvent(original)
			require.NoError(t, err)
			assert.Equal(t, original.Type(), messageType)

			decoded, err := DecodeEvent(string(messageType), data)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestSampleEventsCoverEveryType(t *testing.T) {
	t.Parallel()

	seen := map[EventType]bool{}
	for _, e := range sampleEvents() {
		seen[e.Type()] = true
	}
	for _, et := range EventTypes() {
		assert.True(t, seen[et], "missing sample for %s", et)
		e, err := NewEvent(et)
		require.NoError(t, err)
		assert.Equal(t, et, e.Type())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	_, err := DecodeEvent("AccountTeleported", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEventIDsAreTimeOrdered(t *testing.T) {
	t.Parallel()

	prev := NewEventID()
	for i := 0; i < 100; i++ {
		next := NewEventID()
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestEventMetaIsUTC(t *testing.T) {
	t.Parallel()

	local := time.Date(2026, 3, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600))
	m := newEventMeta(1, local)
	assert.Equal(t, time.UTC, m.OccurredAt.Location())
}
