package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
)

func newProvisioner(env *testEnv) ProvisionService {
	return NewProvisionService(ProvisionServiceDeps{Store: env.store, Audit: env.audits})
}

func TestResolveAutoProvisionsNewUser(t *testing.T) {
	env := newTestEnv(t)
	svc := newProvisioner(env)
	ctx := context.Background()

	user, err := svc.Resolve(ctx, &identity.Normalized{
		Email:      "New@Example.com",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Provider:   "saml",
	}, "t1", true, "member")
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, repository.UserStatusActive, user.Status)
	assert.True(t, user.EmailConfirmed)
	assert.Equal(t, []string{"member"}, user.Roles)
	assert.Nil(t, user.PasswordHash, "federated users have no local password")
}

func TestResolveUnknownWithoutAutoProvision(t *testing.T) {
	env := newTestEnv(t)
	svc := newProvisioner(env)

	_, err := svc.Resolve(context.Background(), &identity.Normalized{Email: "new@example.com"}, "t1", false, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveRefreshesNamesCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	svc := newProvisioner(env)
	existing := env.createUser(t, "ada@example.com", "correct horse 9!", "admin")
	ctx := context.Background()

	user, err := svc.Resolve(ctx, &identity.Normalized{
		Email:       "ADA@EXAMPLE.COM",
		GivenName:   "Augusta Ada",
		DisplayName: "Augusta Ada King",
		Provider:    "oidc",
	}, "t1", true, "member")
	require.NoError(t, err)

	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, "Augusta Ada", user.GivenName)
	assert.Equal(t, "Augusta Ada King", user.DisplayName)
	// Roles y status de la cuenta local no se tocan
	assert.Equal(t, []string{"admin"}, user.Roles)

	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Augusta Ada", stored.GivenName)
}

// Una cuenta local existente nunca se degrada por un login federado.
func TestResolveNeverDowngrades(t *testing.T) {
	env := newTestEnv(t)
	svc := newProvisioner(env)
	ctx := context.Background()

	hash := mustHash(t, "correct horse 9!")
	created, err := env.store.Users().Create(ctx, repository.CreateUserInput{
		TenantID:       "t1",
		Email:          "ada@example.com",
		PasswordHash:   &hash,
		Status:         repository.UserStatusActive,
		EmailConfirmed: true,
		Roles:          []string{"admin"},
	})
	require.NoError(t, err)

	user, err := svc.Resolve(ctx, &identity.Normalized{Email: "ada@example.com"}, "t1", true, "member")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.True(t, user.EmailConfirmed)
	assert.Equal(t, repository.UserStatusActive, user.Status)
	assert.Equal(t, []string{"admin"}, user.Roles)
	assert.NotNil(t, user.PasswordHash)
}

func TestResolveRejectsIdentityWithoutEmail(t *testing.T) {
	env := newTestEnv(t)
	svc := newProvisioner(env)

	_, err := svc.Resolve(context.Background(), &identity.Normalized{GivenName: "Ada"}, "t1", true, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
