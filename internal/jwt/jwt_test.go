package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

func testUser() *repository.User {
	return &repository.User{
		ID:       "u-1",
		TenantID: "t1",
		Email:    "ada@example.com",
		GivenName: "Ada",
		FamilyName: "Lovelace",
		Roles:    []string{"member", "admin"},
	}
}

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	keys, err := NewKeyring("k1", []byte("an-hs256-secret-of-enough-length!"))
	require.NoError(t, err)
	return NewIssuer("portero-test", keys, ttl)
}

func TestKeyringRejectsShortSecret(t *testing.T) {
	_, err := NewKeyring("k1", []byte("demasiado-corta"))
	assert.ErrorIs(t, err, ErrSecretTooShort)

	_, err = NewKeyring("k1", nil)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)
	u := testUser()

	raw, exp, err := iss.IssueAccess(u, u.Roles)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := iss.ValidateAccess(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, []string{"member", "admin"}, claims.Roles)
}

func TestAccessTokenExpired(t *testing.T) {
	iss := newTestIssuer(t, -time.Minute)

	raw, _, err := iss.IssueAccess(testUser(), nil)
	require.NoError(t, err)

	_, err = iss.ValidateAccess(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAccessTokenWrongKeyRejected(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)
	raw, _, err := iss.IssueAccess(testUser(), nil)
	require.NoError(t, err)

	other := newTestIssuer(t, 15*time.Minute)
	other.Keys, err = NewKeyring("k1", []byte("otra-clave-distinta-pero-larga!!"))
	require.NoError(t, err)

	_, err = other.ValidateAccess(raw)
	assert.Error(t, err)
}

func TestMalformedTokenRejected(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)

	for _, raw := range []string{"", "no-es-un-jwt", "a.b.c"} {
		_, err := iss.ValidateAccess(raw)
		assert.Error(t, err, "token %q", raw)
	}
}

func TestMFAPendingTokenIsNotAccess(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)

	pending, err := iss.IssueMFAPending("u-1")
	require.NoError(t, err)

	// El token puente no sirve como access token...
	_, err = iss.ValidateAccess(pending)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	// ...y un access token no sirve como puente.
	access, _, err := iss.IssueAccess(testUser(), nil)
	require.NoError(t, err)
	_, err = iss.ValidateMFAPending(access)
	assert.Error(t, err)

	// El puente canjea por el userID original.
	uid, err := iss.ValidateMFAPending(pending)
	require.NoError(t, err)
	assert.Equal(t, "u-1", uid)
}

func TestKeyRotationKeepsOldTokensValid(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)

	old, _, err := iss.IssueAccess(testUser(), nil)
	require.NoError(t, err)

	require.NoError(t, iss.Keys.Rotate("k2", []byte("la-clave-nueva-tambien-es-larga!")))

	// Token firmado con k1 sigue validando (clave retirada en el ring).
	_, err = iss.ValidateAccess(old)
	require.NoError(t, err)

	// Los nuevos salen con k2.
	fresh, _, err := iss.IssueAccess(testUser(), nil)
	require.NoError(t, err)
	_, err = iss.ValidateAccess(fresh)
	require.NoError(t, err)

	// Al desalojar k1, los tokens viejos mueren.
	iss.Keys.Evict("k1")
	_, err = iss.ValidateAccess(old)
	assert.Error(t, err)
}

func TestRefreshTokenFingerprint(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)

	raw, fp, err := iss.IssueRefresh()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEmpty(t, fp)
	assert.NotEqual(t, raw, fp)

	raw2, fp2, err := iss.IssueRefresh()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, fp, fp2)
}
