package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMFASetupLeavesDisabledUntilVerified(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	ctx := context.Background()

	setup, err := env.mfa.Setup(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.SecretBase32)
	assert.True(t, strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/"))
	assert.Len(t, setup.BackupCodes, 8)
	for _, code := range setup.BackupCodes {
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}

	// Hasta que VerifySetup confirme, el flag sigue apagado
	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAEnabled)

	code, err := ptotp.GenerateCode(setup.SecretBase32, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.mfa.VerifySetup(ctx, user.ID, code))

	stored, err = env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.MFAEnabled)
	assert.NotNil(t, stored.MFAEnabledAt)
}

func TestMFAVerifySetupWrongCode(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	ctx := context.Background()

	_, err := env.mfa.Setup(ctx, user.ID)
	require.NoError(t, err)

	err = env.mfa.VerifySetup(ctx, user.ID, "000000")
	assert.ErrorIs(t, err, ErrInvalidMFACode)

	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAEnabled, "a failed verification must not change state")
}

func TestMFAVerifySetupWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")

	err := env.mfa.VerifySetup(context.Background(), user.ID, "123456")
	assert.ErrorIs(t, err, ErrMFANotEnrolled)
}

func TestMFATOTPReplayRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	secret, _ := env.enableMFA(t, user.ID)
	ctx := context.Background()

	code := env.totpCode(t, secret)
	require.NoError(t, env.mfa.VerifyCode(ctx, user.ID, code))

	// El mismo código dentro del mismo paso se rechaza
	err := env.mfa.VerifyCode(ctx, user.ID, code)
	assert.ErrorIs(t, err, ErrInvalidMFACode)
}

func TestMFARegenerateReplacesWholeSet(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	_, oldCodes := env.enableMFA(t, user.ID)
	ctx := context.Background()

	newCodes, err := env.mfa.RegenerateBackupCodes(ctx, user.ID, "correct horse 9!")
	require.NoError(t, err)
	require.Len(t, newCodes, 8)

	// Los códigos del set anterior quedaron invalidados aunque estaban sin usar
	err = env.mfa.VerifyBackupCode(ctx, user.ID, oldCodes[0])
	assert.ErrorIs(t, err, ErrInvalidMFACode)
	assert.NoError(t, env.mfa.VerifyBackupCode(ctx, user.ID, newCodes[0]))
}

func TestMFARegenerateRequiresPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	env.enableMFA(t, user.ID)

	_, err := env.mfa.RegenerateBackupCodes(context.Background(), user.ID, "wrong password!")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestMFADisable(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada@example.com", "correct horse 9!")
	_, codes := env.enableMFA(t, user.ID)
	ctx := context.Background()

	// Sin el password correcto no se deshabilita
	err := env.mfa.Disable(ctx, user.ID, "wrong password!")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	require.NoError(t, env.mfa.Disable(ctx, user.ID, "correct horse 9!"))

	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAEnabled)

	// Secreto y backup codes quedaron invalidados
	err = env.mfa.VerifyBackupCode(ctx, user.ID, codes[0])
	assert.ErrorIs(t, err, ErrInvalidMFACode)

	// El login vuelve a ser de un solo paso
	res, err := env.login.Login(ctx, "t1", "ada@example.com", "correct horse 9!", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}
