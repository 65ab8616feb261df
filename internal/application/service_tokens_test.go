package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

func (h *harness) refreshJti(t *testing.T, token string) uuid.UUID {
	t.Helper()
	claims, err := h.signer.Validate(token)
	require.NoError(t, err)
	return claims.TokenID
}

func TestPasswordGrantIssuesTokenPairAndLogsRefreshToken(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "Ada@Example.com")

	res := h.login(t, "ada@example.com")
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, int64(600), res.ExpiresIn)

	entry, err := h.tokenLog.Get(context.Background(), h.refreshJti(t, res.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, id, entry.AccountID)
	assert.Nil(t, entry.ReplacedBy)
	assert.Nil(t, entry.RevokedAt)

	claims, err := h.svc.ValidateAccessToken(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AccountID)
	assert.Equal(t, entry.Jti, claims.RefreshID)

	account := h.account(t, id)
	require.NotNil(t, account.LastLogon)
	assert.Zero(t, account.FailedLoginAttempts)
}

func TestPasswordGrantRejectsUnknownEmailAndWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")

	_, err := h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "nobody@example.com", Password: testPassword})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: "Wr0ng!Secret#"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

type countingHasher struct {
	ports.PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(hash, secret string) ports.VerifyResult {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(hash, secret)
}

func TestPasswordGrantUnknownEmailStillVerifiesAHash(t *testing.T) {
	var hasher *countingHasher
	h := newHarness(t, func(d *application.Dependencies) {
		hasher = &countingHasher{PasswordHasher: d.Hasher}
		d.Hasher = hasher
	})
	h.register(t, "ada@example.com")

	for i := 1; i <= 2; i++ {
		_, err := h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "nobody@example.com", Password: testPassword})
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
		assert.Equal(t, int32(i), hasher.verifies.Load())
	}
}

func TestFailedLoginsLockAccountAndQueueNotification(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")

	for i := 1; i < domain.DefaultLockoutThreshold; i++ {
		_, err := h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: "Wr0ng!Secret#"})
		require.ErrorIs(t, err, domain.ErrInvalidCredentials, "attempt %d", i)
	}
	_, err := h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: "Wr0ng!Secret#"})
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	account := h.account(t, id)
	assert.True(t, account.IsLocked())
	assert.Equal(t, domain.DefaultLockoutThreshold, account.FailedLoginAttempts)
	assert.Equal(t, []string{
		string(domain.EventAccountCreated),
		string(domain.EventAccountLoginFailed),
	}, sortedCopy(h.outboxTypes()))

	_, err = h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: testPassword})
	assert.ErrorIs(t, err, domain.ErrAccountLocked)
}

func TestRefreshRotatesToken(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	first := h.login(t, "ada@example.com")

	h.clock.Advance(time.Minute)
	second, err := h.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	x := h.refreshJti(t, first.RefreshToken)
	y := h.refreshJti(t, second.RefreshToken)
	entry, err := h.tokenLog.Get(context.Background(), x)
	require.NoError(t, err)
	require.NotNil(t, entry.ReplacedBy)
	assert.Equal(t, y, *entry.ReplacedBy)

	_, err = h.svc.ValidateAccessToken(context.Background(), second.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshReuseRevokesWholeChain(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	first := h.login(t, "ada@example.com")

	second, err := h.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, domain.ErrTokenReuseDetected)

	x := h.refreshJti(t, first.RefreshToken)
	y := h.refreshJti(t, second.RefreshToken)
	for _, jti := range []uuid.UUID{x, y} {
		entry, err := h.tokenLog.Get(context.Background(), jti)
		require.NoError(t, err)
		assert.NotNil(t, entry.RevokedAt, "jti %s", jti)
		assert.True(t, h.revocations.Tokens[jti], "marker for %s", jti)
	}

	_, err = h.svc.Refresh(context.Background(), second.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.svc.ValidateAccessToken(context.Background(), second.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestReplayingOldestTokenRevokesDescendants(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	a := h.login(t, "ada@example.com")
	b, err := h.svc.Refresh(context.Background(), a.RefreshToken)
	require.NoError(t, err)
	c, err := h.svc.Refresh(context.Background(), b.RefreshToken)
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), a.RefreshToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	for _, tok := range []string{a.RefreshToken, b.RefreshToken, c.RefreshToken} {
		entry, err := h.tokenLog.Get(context.Background(), h.refreshJti(t, tok))
		require.NoError(t, err)
		assert.True(t, entry.IsRevoked())
	}
	_, err = h.svc.Refresh(context.Background(), c.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestConcurrentRefreshOfSameTokenHasOneWinner(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	res := h.login(t, "ada@example.com")

	const attempts = 8
	errs := make([]error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.svc.Refresh(context.Background(), res.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	winners, reused := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrTokenReuseDetected):
			reused++
		default:
			assert.ErrorIs(t, err, domain.ErrTokenRevoked)
		}
	}
	assert.Equal(t, 1, winners)
	assert.GreaterOrEqual(t, reused, 1)

	require.Len(t, h.tokenLog.Entries, 2)
	for jti, entry := range h.tokenLog.Entries {
		assert.NotNil(t, entry.RevokedAt, "jti %s", jti)
		assert.True(t, h.revocations.Tokens[jti], "marker for %s", jti)
	}
}

func TestRefreshRejectsUnknownAndAccessTokens(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	res := h.login(t, "ada@example.com")

	_, err := h.svc.Refresh(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.Refresh(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	delete(h.tokenLog.Entries, h.refreshJti(t, res.RefreshToken))
	_, err = h.svc.Refresh(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDisabledAccountLosesSessionsAndCannotLogin(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")
	res := h.login(t, "ada@example.com")

	_, err := h.svc.DisableAccount(context.Background(), adminActor, id, "fraud")
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	_, err = h.svc.PasswordGrant(context.Background(), application.PasswordGrantRequest{Email: "ada@example.com", Password: testPassword})
	assert.ErrorIs(t, err, domain.ErrAccountDisabled)
}

func TestRevokeAllInvalidatesEarlierAccessTokens(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")
	res := h.login(t, "ada@example.com")

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.svc.RevokeAll(context.Background(), id, "user_request"))

	_, err := h.svc.ValidateAccessToken(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
	_, err = h.svc.Refresh(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.clock.Advance(time.Second)
	fresh := h.login(t, "ada@example.com")
	_, err = h.svc.ValidateAccessToken(context.Background(), fresh.AccessToken)
	assert.NoError(t, err)
}

func TestRevokeAllInSameSecondAsLoginRevokesAccessToken(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "ada@example.com")

	h.clock.Advance(100 * time.Millisecond)
	res := h.login(t, "ada@example.com")
	h.clock.Advance(500 * time.Millisecond)
	require.NoError(t, h.svc.RevokeAll(context.Background(), id, "user_request"))

	assert.True(t, h.revocations.Tokens[h.refreshJti(t, res.RefreshToken)])

	h.clock.Advance(5 * time.Minute)
	_, err := h.svc.ValidateAccessToken(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestValidateAccessTokenRejectsRefreshTokens(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com")
	res := h.login(t, "ada@example.com")

	_, err := h.svc.ValidateAccessToken(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPublicKeysExposeSigningKey(t *testing.T) {
	h := newHarness(t)
	keys, err := h.svc.PublicKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "test-kid", keys[0]["kid"])
}
