package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
)

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return box
}

func oauthCfg(t *testing.T, box *secretbox.Box) *repository.SSOConfiguration {
	t.Helper()
	enc, err := box.Encrypt("s3cret")
	require.NoError(t, err)
	return &repository.SSOConfiguration{
		ID:                    "sso-2",
		TenantID:              "t1",
		Provider:              repository.SSOProviderOAuth,
		ClientID:              "client-1",
		ClientSecretEncrypted: enc,
		Scopes:                []string{"openid", "email", "profile"},
		AuthorizeURL:          "https://idp.example.com/authorize",
		TokenURL:              "https://idp.example.com/token",
		UserInfoURL:           "https://idp.example.com/userinfo",
		CallbackURL:           "https://portero.example.com/sso/oauth/callback",
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	box := testBox(t)
	c := NewClient(box, nil)

	raw, err := c.BuildAuthorizationURL(oauthCfg(t, box), "state-1", "nonce-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Contains(t, q.Get("scope"), "email")
}

func TestBuildAuthorizationURLRequiresState(t *testing.T) {
	box := testBox(t)
	c := NewClient(box, nil)
	_, err := c.BuildAuthorizationURL(oauthCfg(t, box), "", "")
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestProcessCallbackProviderErrorRejectsImmediately(t *testing.T) {
	box := testBox(t)
	c := NewClient(box, nil)
	_, err := c.ProcessCallback(context.Background(), oauthCfg(t, box), "code", "access_denied")
	assert.ErrorIs(t, err, ErrProviderError)
}

func TestProcessCallbackHappyPath(t *testing.T) {
	box := testBox(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "s3cret", r.Form.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"email":       "Ada@Example.com",
			"given_name":  "Ada",
			"family_name": "Lovelace",
			"name":        "Ada Lovelace",
			"groups":      []string{"engineers"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := oauthCfg(t, box)
	cfg.TokenURL = srv.URL + "/token"
	cfg.UserInfoURL = srv.URL + "/userinfo"

	c := NewClient(box, srv.Client())
	id, err := c.ProcessCallback(context.Background(), cfg, "the-code", "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada", id.GivenName)
	assert.Equal(t, []string{"engineers"}, id.Groups)
	assert.Equal(t, "oauth", id.Provider)
}

func TestProcessCallbackUserInfoNon2xx(t *testing.T) {
	box := testBox(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "token_type": "Bearer"})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := oauthCfg(t, box)
	cfg.TokenURL = srv.URL + "/token"
	cfg.UserInfoURL = srv.URL + "/userinfo"

	c := NewClient(box, srv.Client())
	_, err := c.ProcessCallback(context.Background(), cfg, "the-code", "")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestProcessCallbackTokenEndpointFailure(t *testing.T) {
	box := testBox(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := oauthCfg(t, box)
	cfg.TokenURL = srv.URL
	c := NewClient(box, srv.Client())
	_, err := c.ProcessCallback(context.Background(), cfg, "bad-code", "")
	assert.ErrorIs(t, err, ErrUpstream)
}

// ─── OIDC ───

func testRSACert(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return key, string(certPEM)
}

func oidcCfg(t *testing.T, box *secretbox.Box, certPEM string) *repository.SSOConfiguration {
	cfg := oauthCfg(t, box)
	cfg.Provider = repository.SSOProviderOIDC
	cfg.Authority = "https://idp.example.com"
	cfg.SigningCertificatePEM = certPEM
	return cfg
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwtv5.MapClaims) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func baseIDClaims() jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss":         "https://idp.example.com",
		"aud":         "client-1",
		"sub":         "subject-1",
		"exp":         time.Now().Add(5 * time.Minute).Unix(),
		"iat":         time.Now().Unix(),
		"email":       "ada@example.com",
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"nonce":       "nonce-1",
	}
}

func TestVerifyIDTokenHappyPath(t *testing.T) {
	box := testBox(t)
	key, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	claims, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, key, baseIDClaims()), "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims["email"])
}

func TestVerifyIDTokenWrongAudience(t *testing.T) {
	box := testBox(t)
	key, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	cl := baseIDClaims()
	cl["aud"] = "someone-else"
	_, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, key, cl), "nonce-1")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerifyIDTokenExpired(t *testing.T) {
	box := testBox(t)
	key, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	cl := baseIDClaims()
	cl["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, key, cl), "nonce-1")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerifyIDTokenNonceMismatch(t *testing.T) {
	box := testBox(t)
	key, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	_, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, key, baseIDClaims()), "other-nonce")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerifyIDTokenWrongKey(t *testing.T) {
	box := testBox(t)
	otherKey, _ := testRSACert(t)
	_, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	_, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, otherKey, baseIDClaims()), "nonce-1")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerifyIDTokenIssuerNotAccepted(t *testing.T) {
	box := testBox(t)
	key, certPEM := testRSACert(t)
	c := NewClient(box, nil)

	cl := baseIDClaims()
	cl["iss"] = "https://evil.example.com"
	_, err := c.VerifyIDToken(oidcCfg(t, box, certPEM), signIDToken(t, key, cl), "nonce-1")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestValidateConfigurationPerProvider(t *testing.T) {
	box := testBox(t)
	c := NewClient(box, nil)

	assert.Empty(t, c.ValidateConfiguration(oauthCfg(t, box)))

	cfg := oauthCfg(t, box)
	cfg.Provider = repository.SSOProviderOIDC
	problems := c.ValidateConfiguration(cfg)
	require.Len(t, problems, 2) // authority y certificado faltantes
}
