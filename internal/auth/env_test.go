package auth

import (
	"context"
	"testing"
	"time"

	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/email"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/memory"
)

// Parámetros argon2 livianos para que los tests no tarden.
var testHashParams = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

type testEnv struct {
	store    *memory.Store
	box      *secretbox.Box
	issuer   *jwt.Issuer
	cache    cache.Client
	audits   *audit.MemoryRecorder
	login    LoginService
	mfa      MFAService
	password PasswordService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	keys, err := jwt.NewKeyring("k1", []byte("an-hs256-secret-of-enough-length!"))
	require.NoError(t, err)

	env := &testEnv{
		store:  memory.New(),
		box:    box,
		issuer: jwt.NewIssuer("portero-test", keys, 15*time.Minute),
		cache:  cache.NewMemory(time.Minute),
		audits: &audit.MemoryRecorder{},
	}

	env.login, err = NewLoginService(LoginServiceDeps{
		Store:             env.store,
		Issuer:            env.issuer,
		Secrets:           box,
		Audit:             env.audits,
		MaxFailedAttempts: 3,
		LockoutDuration:   200 * time.Millisecond,
		HashParams:        testHashParams,
	})
	require.NoError(t, err)

	env.mfa = NewMFAService(MFAServiceDeps{Store: env.store, Secrets: box, Audit: env.audits})

	env.password = NewPasswordService(PasswordServiceDeps{
		Store:         env.store,
		Cache:         env.cache,
		Email:         email.NopSender{},
		Audit:         env.audits,
		HashParams:    testHashParams,
		HistoryWindow: 3,
		ResetTTL:      time.Minute,
	})

	return env
}

// createUser crea un usuario activo y confirmado con el password dado.
func (e *testEnv) createUser(t *testing.T, emailAddr, plain string, roles ...string) *repository.User {
	t.Helper()
	hash, err := password.Hash(testHashParams, plain)
	require.NoError(t, err)
	user, err := e.store.Users().Create(context.Background(), repository.CreateUserInput{
		TenantID:       "t1",
		Email:          emailAddr,
		PasswordHash:   &hash,
		GivenName:      "Ada",
		FamilyName:     "Lovelace",
		DisplayName:    "Ada Lovelace",
		Status:         repository.UserStatusActive,
		EmailConfirmed: true,
		Roles:          roles,
	})
	require.NoError(t, err)
	return user
}

// enableMFA enrola y confirma TOTP para el usuario; devuelve secreto y backup
// codes. Deja LastUsedAt en el pasado para que el próximo código no caiga en
// el mismo paso que la confirmación.
func (e *testEnv) enableMFA(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := e.mfa.Setup(ctx, userID)
	require.NoError(t, err)

	code, err := ptotp.GenerateCode(setup.SecretBase32, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.VerifySetup(ctx, userID, code))

	e.backdateTOTP(t, userID)
	return setup.SecretBase32, setup.BackupCodes
}

// backdateTOTP simula el paso del tiempo desde el último código aceptado.
func (e *testEnv) backdateTOTP(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, e.store.MFA().TouchSecret(context.Background(), userID, time.Now().Add(-5*time.Minute)))
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	h, err := password.Hash(testHashParams, plain)
	require.NoError(t, err)
	return h
}

func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := ptotp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}
