package repository

import (
	"context"
	"time"
)

// LDAPConfiguration es la conexión de directorio de un tenant (una por tenant).
type LDAPConfiguration struct {
	ID       string
	TenantID string

	Host string
	Port int
	// UseSSL y UseStartTLS pueden venir ambos en true por error de configuración;
	// en ese caso SSL gana y la validación emite un warning, no un error.
	UseSSL      bool
	UseStartTLS bool

	BindDN string
	// BindPasswordEncrypted se guarda cifrado (secretbox); nunca en claro.
	BindPasswordEncrypted string

	BaseDN           string
	UserSearchFilter string // con placeholder {0} para el username
	GroupSearchBase  string

	// Mapeo de atributos del directorio. Vacío = nombres estándar
	// (mail, givenName, sn, displayName, memberOf).
	EmailAttribute       string
	GivenNameAttribute   string
	FamilyNameAttribute  string
	DisplayNameAttribute string
	GroupAttribute       string

	ConnectTimeout time.Duration
	SearchTimeout  time.Duration
	MaxResults     int

	AutoProvisionUsers bool
	DefaultRole        string
	GroupRoleMappings  map[string]string // leaf CN del grupo → rol

	Valid           bool
	ValidationError string
	LastValidatedAt *time.Time
	LastSyncedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LDAPConfigRepository define operaciones sobre configuraciones LDAP.
// Las lee el flujo de autenticación; las escribe solo el caller administrativo.
type LDAPConfigRepository interface {
	// GetByTenant retorna la configuración del tenant.
	// Retorna ErrNotFound si el tenant no tiene LDAP configurado.
	GetByTenant(ctx context.Context, tenantID string) (*LDAPConfiguration, error)

	// Upsert crea o reemplaza la configuración del tenant (única por tenant).
	Upsert(ctx context.Context, cfg *LDAPConfiguration) error

	// SetValidation registra el resultado de la última validación.
	SetValidation(ctx context.Context, id string, valid bool, verr string, at time.Time) error

	// TouchSynced registra el timestamp de la última sincronización masiva.
	TouchSynced(ctx context.Context, id string, at time.Time) error
}
