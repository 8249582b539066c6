// Package oauth implementa el grant authorization_code contra endpoints
// configurables por tenant, tanto OAuth2 plano (user-info) como OIDC
// (ID token validado contra el certificado configurado).
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
)

// Errores del gateway OAuth/OIDC.
var (
	// ErrConfigInvalid indica configuración incompleta o secreto indescifrable.
	ErrConfigInvalid = errors.New("oauth: invalid configuration")

	// ErrProviderError indica que el callback trajo un parámetro error del
	// provider; se rechaza sin intercambiar nada.
	ErrProviderError = errors.New("oauth: provider returned an error")

	// ErrUpstream indica fallas de red o status no-2xx del provider.
	ErrUpstream = errors.New("oauth: provider unavailable")

	// ErrRejected indica un token o user-info que no pasa validación.
	ErrRejected = errors.New("oauth: token rejected")
)

// Client ejecuta los flujos contra los providers configurados por tenant.
type Client struct {
	http    *http.Client
	secrets *secretbox.Box
	now     func() time.Time
}

// NewClient crea un Client. httpClient nil usa uno con timeout de 10s.
func NewClient(secrets *secretbox.Box, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{http: httpClient, secrets: secrets, now: time.Now}
}

// oauthConfig arma el oauth2.Config desde la configuración del tenant,
// descifrando el client secret.
func (c *Client) oauthConfig(cfg *repository.SSOConfiguration) (*oauth2.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, fmt.Errorf("%w: client id and callback url are required", ErrConfigInvalid)
	}
	authorizeURL := cfg.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = cfg.SSOURL
	}
	if strings.TrimSpace(authorizeURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("%w: authorize and token urls are required", ErrConfigInvalid)
	}
	secret := ""
	if cfg.ClientSecretEncrypted != "" {
		var err error
		secret, err = c.secrets.Decrypt(cfg.ClientSecretEncrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: client secret: %v", ErrConfigInvalid, err)
		}
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// BuildAuthorizationURL arma la URL de autorización con state (y nonce para
// OIDC). El caller guarda state/nonce para correlacionar el callback.
func (c *Client) BuildAuthorizationURL(cfg *repository.SSOConfiguration, state, nonce string) (string, error) {
	oc, err := c.oauthConfig(cfg)
	if err != nil {
		return "", err
	}
	if state == "" {
		return "", fmt.Errorf("%w: state is required", ErrConfigInvalid)
	}
	var opts []oauth2.AuthCodeOption
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return oc.AuthCodeURL(state, opts...), nil
}

// exchange canjea el code por tokens en el token endpoint.
func (c *Client) exchange(ctx context.Context, cfg *repository.SSOConfiguration, code string) (*oauth2.Token, error) {
	oc, err := c.oauthConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: token endpoint http %d", ErrUpstream, rerr.Response.StatusCode)
		}
		return nil, fmt.Errorf("%w: exchange: %v", ErrUpstream, err)
	}
	return tok, nil
}

// ProcessCallback maneja el callback OAuth2 plano: rechaza ante error del
// provider, canjea el code y resuelve la identidad desde el user-info
// endpoint con el access token.
func (c *Client) ProcessCallback(ctx context.Context, cfg *repository.SSOConfiguration, code, providerErr string) (*identity.Normalized, error) {
	if providerErr != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderError, providerErr)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrRejected)
	}
	if strings.TrimSpace(cfg.UserInfoURL) == "" {
		return nil, fmt.Errorf("%w: user info url is required", ErrConfigInvalid)
	}

	tok, err := c.exchange(ctx, cfg, code)
	if err != nil {
		return nil, err
	}

	claims, err := c.fetchUserInfo(ctx, cfg.UserInfoURL, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	id := mapClaims(cfg, claims, "oauth")
	if !id.Normalize() {
		return nil, fmt.Errorf("%w: user info carries no email", ErrRejected)
	}
	return id, nil
}

// fetchUserInfo llama al user-info endpoint con bearer token y chequea el
// status antes de leer el cuerpo.
func (c *Client) fetchUserInfo(ctx context.Context, userInfoURL, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: user info url: %v", ErrConfigInvalid, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: user info: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: user info http %d", ErrUpstream, resp.StatusCode)
	}
	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: user info body: %v", ErrRejected, err)
	}
	return claims, nil
}

// mapClaims traduce claims/user-info a la identidad normalizada según los
// mapeos configurados, con fallback a los nombres estándar OIDC.
func mapClaims(cfg *repository.SSOConfiguration, claims map[string]any, provider string) *identity.Normalized {
	get := func(normalized string, defaults ...string) string {
		for attr, target := range cfg.AttributeMappings {
			if target == normalized {
				if v, ok := claims[attr].(string); ok && v != "" {
					return v
				}
			}
		}
		for _, k := range defaults {
			if v, ok := claims[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	id := &identity.Normalized{
		Provider:    provider,
		Email:       get("email", "email", "mail", "upn"),
		GivenName:   get("given_name", "given_name", "first_name"),
		FamilyName:  get("family_name", "family_name", "last_name"),
		DisplayName: get("display_name", "name", "display_name"),
	}
	if groups, ok := claims["groups"].([]any); ok {
		for _, g := range groups {
			if s, ok := g.(string); ok && s != "" {
				id.Groups = append(id.Groups, s)
			}
		}
	}
	return id
}

// ValidateConfiguration revisa los campos requeridos por provider.
func (c *Client) ValidateConfiguration(cfg *repository.SSOConfiguration) []string {
	var problems []string
	if cfg == nil {
		return []string{"configuration is nil"}
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		problems = append(problems, "client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecretEncrypted) == "" {
		problems = append(problems, "client secret is required")
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		problems = append(problems, "callback url is required")
	} else if _, err := url.Parse(cfg.CallbackURL); err != nil {
		problems = append(problems, "callback url does not parse")
	}
	switch cfg.Provider {
	case repository.SSOProviderOIDC:
		if strings.TrimSpace(cfg.Authority) == "" && strings.TrimSpace(cfg.EntityID) == "" {
			problems = append(problems, "authority is required for oidc")
		}
		if strings.TrimSpace(cfg.SigningCertificatePEM) == "" {
			problems = append(problems, "signing certificate is required for oidc")
		}
	case repository.SSOProviderOAuth:
		if strings.TrimSpace(cfg.UserInfoURL) == "" {
			problems = append(problems, "user info url is required for oauth")
		}
	}
	if strings.TrimSpace(cfg.AuthorizeURL) == "" && strings.TrimSpace(cfg.SSOURL) == "" {
		problems = append(problems, "authorize url is required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		problems = append(problems, "token url is required")
	}
	return problems
}
