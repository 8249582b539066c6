package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

func mustCreateUser(t *testing.T, s *Store, tenantID, email string) *repository.User {
	t.Helper()
	hash := "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"
	u, err := s.Users().Create(context.Background(), repository.CreateUserInput{
		TenantID:       tenantID,
		Email:          email,
		PasswordHash:   &hash,
		Status:         repository.UserStatusActive,
		EmailConfirmed: true,
		Roles:          []string{"user"},
	})
	require.NoError(t, err)
	return u
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := New()
	mustCreateUser(t, s, "acme", "Ada@Example.com")

	_, err := s.Users().Create(ctx, repository.CreateUserInput{
		TenantID: "acme",
		Email:    "ada@example.com",
	})
	assert.ErrorIs(t, err, repository.ErrConflict, "el email es único case-insensitive por tenant")

	// Mismo email en otro tenant no colisiona.
	_, err = s.Users().Create(ctx, repository.CreateUserInput{
		TenantID: "globex",
		Email:    "ada@example.com",
	})
	assert.NoError(t, err)
}

func TestGetByEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := New()
	created := mustCreateUser(t, s, "acme", "Ada@Example.com")

	got, err := s.Users().GetByEmail(ctx, "acme", "ADA@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = s.Users().GetByEmail(ctx, "globex", "ada@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegisterFailedAttemptLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	for i := 1; i <= 2; i++ {
		res, err := s.Users().RegisterFailedAttempt(ctx, u.ID, 3, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, res.FailedAttempts)
		assert.Nil(t, res.LockoutUntil, "bajo el umbral no hay lockout")
	}

	res, err := s.Users().RegisterFailedAttempt(ctx, u.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, res.FailedAttempts)
	require.NotNil(t, res.LockoutUntil)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *res.LockoutUntil, 5*time.Second)
}

func TestResetLockoutClearsCounter(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	for i := 0; i < 3; i++ {
		_, err := s.Users().RegisterFailedAttempt(ctx, u.ID, 3, 15*time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, s.Users().ResetLockout(ctx, u.ID))

	got, err := s.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockoutUntil)
}

func TestPasswordHistoryKeepsWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		require.NoError(t, s.Users().AddPasswordHistory(ctx, u.ID, h, 3))
	}

	entries, err := s.Users().ListPasswordHistory(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3, "solo se retienen los últimos 3")

	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.PasswordHash)
	}
	assert.NotContains(t, hashes, "h1", "el más viejo se descarta")
	assert.Contains(t, hashes, "h4")
}

func TestConsumeBackupCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	require.NoError(t, s.MFA().ReplaceBackupCodes(ctx, u.ID, []string{"hash-a", "hash-b"}))

	n, err := s.MFA().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.MFA().ConsumeBackupCode(ctx, u.ID, "hash-a", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MFA().ConsumeBackupCode(ctx, u.ID, "hash-a", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "un código consumido no se acepta de nuevo")

	ok, err = s.MFA().ConsumeBackupCode(ctx, u.ID, "hash-desconocido", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = s.MFA().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplaceBackupCodesDiscardsPrevious(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	require.NoError(t, s.MFA().ReplaceBackupCodes(ctx, u.ID, []string{"viejo-1", "viejo-2"}))
	require.NoError(t, s.MFA().ReplaceBackupCodes(ctx, u.ID, []string{"nuevo-1"}))

	ok, err := s.MFA().ConsumeBackupCode(ctx, u.ID, "viejo-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MFA().ConsumeBackupCode(ctx, u.ID, "nuevo-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertSecretResetsConfirmation(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	require.NoError(t, s.MFA().UpsertSecret(ctx, u.ID, "enc-1"))
	require.NoError(t, s.MFA().ConfirmSecret(ctx, u.ID, time.Now()))

	sec, err := s.MFA().GetSecret(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, sec.ConfirmedAt)

	// Re-enrolar reemplaza el secreto y vuelve al estado sin confirmar.
	require.NoError(t, s.MFA().UpsertSecret(ctx, u.ID, "enc-2"))
	sec, err = s.MFA().GetSecret(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "enc-2", sec.SecretEncrypted)
	assert.Nil(t, sec.ConfirmedAt)
	assert.Nil(t, sec.LastUsedAt)
}

func TestDeleteSecretRemovesBackupCodes(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustCreateUser(t, s, "acme", "ada@example.com")

	require.NoError(t, s.MFA().UpsertSecret(ctx, u.ID, "enc"))
	require.NoError(t, s.MFA().ReplaceBackupCodes(ctx, u.ID, []string{"h"}))
	require.NoError(t, s.MFA().DeleteSecret(ctx, u.ID))

	_, err := s.MFA().GetSecret(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := s.MFA().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
