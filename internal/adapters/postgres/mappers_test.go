package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

func TestAccountModelCarriesNextVersionAndPermissions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := domain.CreateUser(9, "Ada@Example.com", "hash", "Ada", "Lovelace", now)
	require.NoError(t, err)

	rec, err := toAccountModel(a, a.Version+1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "[]", rec.Permissions)
	assert.Equal(t, "ada@example.com", rec.Email)

	rec.Permissions = `["reports:read","accounts:admin"]`
	loaded, err := toDomainAccount(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts:admin", "reports:read"}, loaded.Permissions)
	assert.False(t, loaded.IsChanged())
	assert.Equal(t, int64(1), loaded.Version)
}

func TestToDomainAccountRejectsCorruptPermissions(t *testing.T) {
	t.Parallel()

	_, err := toDomainAccount(accountModel{AccountID: 1, Permissions: "{"})
	require.Error(t, err)
}

func TestUTCPtrNormalizesZone(t *testing.T) {
	t.Parallel()

	assert.Nil(t, utcPtr(nil))
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	got := utcPtr(&local)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}

func TestMigrationNamesAreOrdered(t *testing.T) {
	t.Parallel()

	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_accounts.sql", names[0])
	assert.IsNonDecreasing(t, names)
}
