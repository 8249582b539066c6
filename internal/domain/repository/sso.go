package repository

import (
	"context"
	"time"
)

// SSOProvider es el tipo de federación configurado.
type SSOProvider string

const (
	SSOProviderSAML  SSOProvider = "saml"
	SSOProviderOAuth SSOProvider = "oauth"
	SSOProviderOIDC  SSOProvider = "oidc"
)

// SSOConfiguration es la configuración de federación de un tenant para un
// provider. Única por (tenant, provider).
type SSOConfiguration struct {
	ID       string
	TenantID string
	Provider SSOProvider

	// SAML
	EntityID string
	SSOURL   string
	LogoutURL string
	// SigningCertificatePEM es el certificado X.509 del IdP (PEM). Sin él,
	// ninguna aserción SAML ni ID token OIDC se acepta.
	SigningCertificatePEM string

	// OAuth / OIDC
	ClientID string
	// ClientSecretEncrypted se guarda cifrado (secretbox).
	ClientSecretEncrypted string
	Scopes                []string
	Authority             string // issuer base para OIDC
	AuthorizeURL          string
	TokenURL              string
	UserInfoURL           string
	CallbackURL           string

	// Mapeo nombre-de-atributo/claim → claim normalizado. Vacío = defaults.
	AttributeMappings map[string]string

	AutoProvisionUsers bool
	DefaultRole        string

	Valid           bool
	ValidationError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SSOConfigRepository define operaciones sobre configuraciones de federación.
type SSOConfigRepository interface {
	// GetByTenantProvider retorna la configuración (tenant, provider).
	// Retorna ErrNotFound si no existe.
	GetByTenantProvider(ctx context.Context, tenantID string, provider SSOProvider) (*SSOConfiguration, error)

	// ListByTenant retorna todas las configuraciones del tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]SSOConfiguration, error)

	// Upsert crea o reemplaza la configuración (tenant, provider).
	Upsert(ctx context.Context, cfg *SSOConfiguration) error

	// SetValidation registra el resultado de la última validación.
	SetValidation(ctx context.Context, id string, valid bool, verr string, at time.Time) error
}
