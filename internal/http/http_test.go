package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/auth"
	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/email"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/rate"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/memory"
)

var testHashParams = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

type testAPI struct {
	store  *memory.Store
	server http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	keys, err := jwt.NewKeyring("k1", []byte("an-hs256-secret-of-enough-length!"))
	require.NoError(t, err)
	issuer := jwt.NewIssuer("portero-test", keys, 15*time.Minute)
	mem := cache.NewMemory(2 * time.Minute)
	rec := audit.ZapRecorder{}

	login, err := auth.NewLoginService(auth.LoginServiceDeps{
		Store:             store,
		Issuer:            issuer,
		Secrets:           box,
		Audit:             rec,
		MaxFailedAttempts: 3,
		LockoutDuration:   time.Minute,
		HashParams:        testHashParams,
	})
	require.NoError(t, err)

	mfa := auth.NewMFAService(auth.MFAServiceDeps{
		Store:      store,
		Secrets:    box,
		Audit:      rec,
		TOTPIssuer: "portero-test",
	})

	pwd := auth.NewPasswordService(auth.PasswordServiceDeps{
		Store:      store,
		Cache:      mem,
		Email:      email.NopSender{},
		Audit:      rec,
		Policy:     password.DefaultPolicy,
		HashParams: testHashParams,
	})

	provision := auth.NewProvisionService(auth.ProvisionServiceDeps{Store: store, Audit: rec})
	fed := auth.NewFederationService(auth.FederationServiceDeps{
		Store:     store,
		Cache:     mem,
		Issuer:    issuer,
		Audit:     rec,
		Provision: provision,
	})

	handler := NewRouter(RouterDeps{
		Login:      login,
		MFA:        mfa,
		Password:   pwd,
		Federation: fed,
		Issuer:     issuer,
	})

	return &testAPI{store: store, server: handler}
}

func (a *testAPI) createUser(t *testing.T, email, pass string) *repository.User {
	t.Helper()
	hash, err := password.Hash(testHashParams, pass)
	require.NoError(t, err)
	u, err := a.store.Users().Create(context.Background(), repository.CreateUserInput{
		TenantID:       "t1",
		Email:          email,
		PasswordHash:   &hash,
		GivenName:      "Ada",
		FamilyName:     "Lovelace",
		Status:         repository.UserStatusActive,
		EmailConfirmed: true,
		Roles:          []string{"member"},
	})
	require.NoError(t, err)
	return u
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	a.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestLoginEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[sessionResponse](t, w)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Greater(t, body.ExpiresIn, int64(0))
	assert.Equal(t, []string{"member"}, body.Roles)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	for _, email := range []string{"ada@example.com", "nadie@example.com"} {
		w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
			TenantID: "t1", Email: email, Password: "incorrecta-123!",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		body := decode[apiError](t, w)
		// Misma respuesta exista o no el usuario.
		assert.Equal(t, "invalid_credentials", body.Error)
	}
}

func TestLoginEndpointMissingFields(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: "x@y.z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginEndpointLockout(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	for i := 0; i < 3; i++ {
		w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
			TenantID: "t1", Email: "ada@example.com", Password: "incorrecta-123!",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "account_locked", decode[apiError](t, w).Error)
}

func TestMFAEnrollVerifyAndComplete(t *testing.T) {
	api := newTestAPI(t)
	u := api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	// Sesión inicial para los endpoints self-service.
	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	access := decode[sessionResponse](t, w).AccessToken

	// Enroll
	w = api.do(t, http.MethodPost, "/v1/mfa/totp/enroll", access, struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	enroll := decode[mfaEnrollResponse](t, w)
	require.NotEmpty(t, enroll.SecretBase32)
	require.Len(t, enroll.BackupCodes, 8)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	// Verify con el primer código
	code, err := ptotp.GenerateCode(enroll.SecretBase32, time.Now())
	require.NoError(t, err)
	w = api.do(t, http.MethodPost, "/v1/mfa/totp/verify", access, mfaCodeRequest{Code: code})
	require.Equal(t, http.StatusOK, w.Code)

	// El verify consumió el time-step actual; retrocedemos last_used_at para
	// que el próximo código válido no caiga en el guard de replay.
	require.NoError(t, api.store.MFA().TouchSecret(context.Background(), u.ID, time.Now().Add(-5*time.Minute)))

	// Login ahora exige MFA
	w = api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[mfaPendingResponse](t, w)
	require.True(t, pending.MFARequired)
	require.NotEmpty(t, pending.MFAPendingToken)

	// Completar con TOTP
	code, err = ptotp.GenerateCode(enroll.SecretBase32, time.Now())
	require.NoError(t, err)
	w = api.do(t, http.MethodPost, "/v1/auth/mfa/complete", "", mfaCompleteRequest{
		MFAPendingToken: pending.MFAPendingToken,
		Code:            code,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[sessionResponse](t, w).AccessToken)
}

func TestMFACompleteWrongCode(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	w := api.do(t, http.MethodPost, "/v1/auth/mfa/complete", "", mfaCompleteRequest{
		MFAPendingToken: "no-es-un-token",
		Code:            "000000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePasswordRequiresBearer(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	w := api.do(t, http.MethodPost, "/v1/auth/password", "", changePasswordRequest{
		CurrentPassword: "Sup3r-secreta!", NewPassword: "Otra-secreta-99!",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", decode[apiError](t, w).Error)

	w = api.do(t, http.MethodPost, "/v1/auth/password", "token-basura", changePasswordRequest{
		CurrentPassword: "Sup3r-secreta!", NewPassword: "Otra-secreta-99!",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePasswordEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	access := decode[sessionResponse](t, w).AccessToken

	w = api.do(t, http.MethodPost, "/v1/auth/password", access, changePasswordRequest{
		CurrentPassword: "Sup3r-secreta!", NewPassword: "Otra-secreta-99!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// El password viejo ya no sirve, el nuevo sí.
	w = api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Otra-secreta-99!",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWeakPasswordRejected(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		TenantID: "t1", Email: "ada@example.com", Password: "Sup3r-secreta!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	access := decode[sessionResponse](t, w).AccessToken

	w = api.do(t, http.MethodPost, "/v1/auth/password", access, changePasswordRequest{
		CurrentPassword: "Sup3r-secreta!", NewPassword: "corta",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "weak_password", decode[apiError](t, w).Error)
}

func TestForgotAlwaysAccepted(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "ada@example.com", "Sup3r-secreta!")

	for _, email := range []string{"ada@example.com", "nadie@example.com"} {
		w := api.do(t, http.MethodPost, "/v1/auth/forgot", "", forgotRequest{
			TenantID: "t1", Email: email,
		})
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
}

func TestSSOStartUnknownProvider(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/v1/sso/t1/carrier-pigeon/start", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSSOStartNotConfigured(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/v1/sso/t1/oidc/start", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_configured", decode[apiError](t, w).Error)
}

func TestLoginRateLimit(t *testing.T) {
	store := memory.New()
	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	keys, err := jwt.NewKeyring("k1", []byte("an-hs256-secret-of-enough-length!"))
	require.NoError(t, err)
	issuer := jwt.NewIssuer("portero-test", keys, 15*time.Minute)

	login, err := auth.NewLoginService(auth.LoginServiceDeps{
		Store: store, Issuer: issuer, Secrets: box, Audit: audit.ZapRecorder{},
		HashParams: testHashParams,
	})
	require.NoError(t, err)

	handler := NewRouter(RouterDeps{
		Login:        login,
		Issuer:       issuer,
		LoginLimiter: rate.NewMemoryLimiter(2, time.Minute),
	})

	body := loginRequest{TenantID: "t1", Email: "x@y.z", Password: "whatever-123!"}
	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
