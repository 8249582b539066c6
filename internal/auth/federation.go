package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/ldap"
	"github.com/dropDatabas3/portero/internal/metrics"
	"github.com/dropDatabas3/portero/internal/oauth"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/saml"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
)

const ssoStateTTL = 10 * time.Minute

// DirectoryGateway es lo que el servicio necesita del gateway LDAP.
type DirectoryGateway interface {
	Authenticate(ctx context.Context, cfg *repository.LDAPConfiguration, username, password string) (*identity.Normalized, error)
}

// SAMLGateway es lo que el servicio necesita del lado SP SAML.
type SAMLGateway interface {
	BuildAuthnRequestURL(cfg *repository.SSOConfiguration, relayState string) (string, string, error)
	ProcessResponse(cfg *repository.SSOConfiguration, rawResponse string) (*identity.Normalized, error)
}

// OAuthGateway es lo que el servicio necesita del cliente OAuth2/OIDC.
type OAuthGateway interface {
	BuildAuthorizationURL(cfg *repository.SSOConfiguration, state, nonce string) (string, error)
	ProcessCallback(ctx context.Context, cfg *repository.SSOConfiguration, code, providerErr string) (*identity.Normalized, error)
	ProcessOIDCCallback(ctx context.Context, cfg *repository.SSOConfiguration, code, providerErr, expectedNonce string) (*identity.Normalized, error)
}

// FederationService despacha la autenticación federada según la configuración
// del tenant: directorio LDAP, SAML, OAuth2 u OIDC. Cada variante es dueña de
// su protocolo; acá solo se elige, se correlaciona el state y se converge a
// la identidad normalizada.
type FederationService interface {
	// Start arma la URL de redirección al IdP para el provider configurado y
	// deja el state (y nonce) guardados para correlacionar el callback.
	Start(ctx context.Context, tenantID string, provider repository.SSOProvider) (string, error)

	// Callback procesa la vuelta del IdP y, si la identidad valida, emite la
	// sesión local.
	Callback(ctx context.Context, tenantID string, provider repository.SSOProvider, in CallbackInput) (*Session, error)

	// DirectoryLogin autentica username+password contra el LDAP del tenant.
	DirectoryLogin(ctx context.Context, tenantID, username, pass string) (*Session, error)
}

// CallbackInput es lo que vuelve del IdP en el callback.
type CallbackInput struct {
	// OAuth / OIDC
	Code          string
	State         string
	ProviderError string

	// SAML (binding POST)
	RawSAMLResponse string
	RelayState      string
}

// FederationServiceDeps contiene las dependencias del servicio de federación.
type FederationServiceDeps struct {
	Store     repository.Store
	Cache     cache.Client
	Issuer    *jwt.Issuer
	Audit     audit.Recorder
	Provision ProvisionService

	Directory DirectoryGateway
	SAML      SAMLGateway
	OAuth     OAuthGateway
}

type federationService struct {
	store     repository.Store
	cache     cache.Client
	sessions  sessionIssuer
	audit     audit.Recorder
	provision ProvisionService
	directory DirectoryGateway
	saml      SAMLGateway
	oauth     OAuthGateway
}

// NewFederationService crea el servicio de federación.
func NewFederationService(deps FederationServiceDeps) FederationService {
	return &federationService{
		store:     deps.Store,
		cache:     deps.Cache,
		sessions:  sessionIssuer{issuer: deps.Issuer, audit: deps.Audit},
		audit:     deps.Audit,
		provision: deps.Provision,
		directory: deps.Directory,
		saml:      deps.SAML,
		oauth:     deps.OAuth,
	}
}

func (s *federationService) Start(ctx context.Context, tenantID string, provider repository.SSOProvider) (string, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth.federation"),
		logger.Op("Start"),
		logger.TenantID(tenantID),
		logger.Provider(string(provider)),
	)

	cfg, err := s.config(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}

	// 1. Generar state (y nonce para OIDC)
	state, err := tokens.GenerateOpaqueToken(16)
	if err != nil {
		return "", err
	}
	nonce := ""
	if provider == repository.SSOProviderOIDC {
		if nonce, err = tokens.GenerateOpaqueToken(16); err != nil {
			return "", err
		}
	}

	// 2. Construir la URL del provider
	var redirect string
	switch provider {
	case repository.SSOProviderSAML:
		redirect, state, err = s.saml.BuildAuthnRequestURL(cfg, state)
	case repository.SSOProviderOAuth:
		redirect, err = s.oauth.BuildAuthorizationURL(cfg, state, "")
	case repository.SSOProviderOIDC:
		redirect, err = s.oauth.BuildAuthorizationURL(cfg, state, nonce)
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrConfigurationInvalid, provider)
	}
	if err != nil {
		return "", mapGatewayErr(err)
	}

	// 3. Guardar el state con TTL; el nonce viaja en el mismo valor
	if err := s.cache.Set(ctx, ssoStateKey(tenantID, state), nonce, ssoStateTTL); err != nil {
		log.Error("failed to store sso state", logger.Err(err))
		return "", err
	}

	log.Info("federation started")
	return redirect, nil
}

func (s *federationService) Callback(ctx context.Context, tenantID string, provider repository.SSOProvider, in CallbackInput) (*Session, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth.federation"),
		logger.Op("Callback"),
		logger.TenantID(tenantID),
		logger.Provider(string(provider)),
	)

	cfg, err := s.config(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}

	// 1. Consumir el state de forma atómica: un callback por state
	state := in.State
	if provider == repository.SSOProviderSAML {
		state = in.RelayState
	}
	nonce, err := s.cache.GetDel(ctx, ssoStateKey(tenantID, state))
	if err != nil {
		if cache.IsNotFound(err) {
			log.Warn("sso state not found or expired")
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	// 2. Despachar al gateway del provider
	var id *identity.Normalized
	switch provider {
	case repository.SSOProviderSAML:
		id, err = s.saml.ProcessResponse(cfg, in.RawSAMLResponse)
	case repository.SSOProviderOAuth:
		id, err = s.oauth.ProcessCallback(ctx, cfg, in.Code, in.ProviderError)
	case repository.SSOProviderOIDC:
		id, err = s.oauth.ProcessOIDCCallback(ctx, cfg, in.Code, in.ProviderError, nonce)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfigurationInvalid, provider)
	}
	if err != nil {
		log.Warn("federated authentication failed", logger.Err(err))
		metrics.ObserveAuthAttempt(string(provider), "failure")
		s.audit.Record(ctx, audit.Event{
			Name: "federation.failed", TenantID: tenantID, Provider: string(provider), Detail: err.Error(),
		})
		return nil, mapGatewayErr(err)
	}

	return s.finish(ctx, cfg, id, string(provider))
}

func (s *federationService) DirectoryLogin(ctx context.Context, tenantID, username, pass string) (*Session, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth.federation"),
		logger.Op("DirectoryLogin"),
		logger.TenantID(tenantID),
	)

	cfg, err := s.store.LDAPConfigs().GetByTenant(ctx, tenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrConfigurationMissing
		}
		return nil, err
	}

	id, err := s.directory.Authenticate(ctx, cfg, username, pass)
	if err != nil {
		log.Warn("directory authentication failed", logger.Err(err))
		metrics.ObserveAuthAttempt("ldap", "failure")
		s.audit.Record(ctx, audit.Event{
			Name: "login.failed", TenantID: tenantID, Provider: "ldap", Detail: err.Error(),
		})
		return nil, mapGatewayErr(err)
	}

	user, err := s.provision.Resolve(ctx, id, tenantID, cfg.AutoProvisionUsers, cfg.DefaultRole)
	if err != nil {
		return nil, err
	}
	if err := accountGates(user); err != nil {
		return nil, err
	}
	return s.sessions.issue(ctx, user, "ldap")
}

// finish converge identidad federada → usuario local → sesión.
func (s *federationService) finish(ctx context.Context, cfg *repository.SSOConfiguration, id *identity.Normalized, method string) (*Session, error) {
	user, err := s.provision.Resolve(ctx, id, cfg.TenantID, cfg.AutoProvisionUsers, cfg.DefaultRole)
	if err != nil {
		return nil, err
	}
	if err := accountGates(user); err != nil {
		return nil, err
	}
	return s.sessions.issue(ctx, user, method)
}

func (s *federationService) config(ctx context.Context, tenantID string, provider repository.SSOProvider) (*repository.SSOConfiguration, error) {
	cfg, err := s.store.SSOConfigs().GetByTenantProvider(ctx, tenantID, provider)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrConfigurationMissing
		}
		return nil, err
	}
	return cfg, nil
}

// accountGates aplica los gates de cuenta que valen para cualquier método.
// El lockout de password no aplica a federación: el factor es del IdP.
func accountGates(user *repository.User) error {
	if user.Status != repository.UserStatusActive {
		return ErrAccountInactive
	}
	if !user.EmailConfirmed {
		return ErrEmailUnconfirmed
	}
	return nil
}

// mapGatewayErr traduce los errores de los gateways a la taxonomía del
// servicio. El detalle queda en el log; el caller recibe el tipo.
func mapGatewayErr(err error) error {
	switch {
	case errors.Is(err, ldap.ErrInvalidCredentials):
		return ErrInvalidCredential
	case errors.Is(err, ldap.ErrUpstream), errors.Is(err, oauth.ErrUpstream):
		return ErrUpstreamUnavailable
	case errors.Is(err, ldap.ErrConfigInvalid), errors.Is(err, saml.ErrConfigInvalid), errors.Is(err, oauth.ErrConfigInvalid):
		return ErrConfigurationInvalid
	case errors.Is(err, saml.ErrSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, saml.ErrMalformed):
		return ErrTokenMalformed
	case errors.Is(err, oauth.ErrRejected):
		return ErrSignatureInvalid
	case errors.Is(err, saml.ErrRejected), errors.Is(err, oauth.ErrProviderError):
		return ErrInvalidCredential
	default:
		return err
	}
}

func ssoStateKey(tenantID, state string) string {
	return "sso:state:" + tenantID + ":" + state
}
