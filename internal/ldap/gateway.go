// Package ldap implementa el gateway de autenticación contra un directorio
// LDAP/LDAPS/StartTLS: bind de servicio, búsqueda del usuario y re-bind con
// sus credenciales como única prueba de password.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
)

// Errores del gateway.
var (
	// ErrInvalidCredentials cubre usuario inexistente y password incorrecto:
	// el caller no puede distinguirlos.
	ErrInvalidCredentials = errors.New("ldap: invalid credentials")

	// ErrConfigInvalid indica una configuración estructuralmente inválida.
	ErrConfigInvalid = errors.New("ldap: invalid configuration")

	// ErrUpstream indica que el directorio no respondió (red o timeout).
	ErrUpstream = errors.New("ldap: directory unavailable")
)

// Atributos por defecto cuando la configuración no mapea otros.
const (
	defaultEmailAttr       = "mail"
	defaultGivenNameAttr   = "givenName"
	defaultFamilyNameAttr  = "sn"
	defaultDisplayNameAttr = "displayName"
	defaultGroupAttr       = "memberOf"
)

// Gateway habla con el directorio de un tenant según su LDAPConfiguration.
type Gateway struct {
	secrets *secretbox.Box
}

// NewGateway crea un Gateway. secrets descifra el bind password almacenado.
func NewGateway(secrets *secretbox.Box) *Gateway {
	return &Gateway{secrets: secrets}
}

// Authenticate verifica username+password contra el directorio.
//
// La única prueba de password es el segundo bind con el DN del usuario: la
// cuenta de servicio solo busca, nunca valida credenciales de terceros.
// Usuario inexistente y password incorrecto devuelven el mismo error.
func (g *Gateway) Authenticate(ctx context.Context, cfg *repository.LDAPConfiguration, username, password string) (*identity.Normalized, error) {
	log := logger.From(ctx).With(logger.Layer("gateway"), logger.Component("ldap"), logger.Op("Authenticate"))

	if err := requireUsable(cfg); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	// Un bind con password vacío es un "unauthenticated bind" que muchos
	// directorios aceptan. Jamás debe contar como login.
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	entry, err := g.findUser(ctx, cfg, username)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		log.Debug("user not found in directory")
		return nil, ErrInvalidCredentials
	}

	// Segunda conexión: bind como el usuario.
	userConn, err := g.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer userConn.Close()

	if err := userConn.Bind(entry.DN, password); err != nil {
		if isNetworkErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		log.Debug("user bind rejected")
		return nil, ErrInvalidCredentials
	}

	id := mapEntry(cfg, entry)
	if !id.Normalize() {
		// Sin email mapeado no podemos resolver un usuario local.
		log.Warn("directory entry has no email attribute", logger.String("dn", entry.DN))
		return nil, ErrInvalidCredentials
	}
	log.Info("directory authentication ok", logger.Email(id.Email))
	return id, nil
}

// findUser hace bind de servicio y busca la primera entrada que matchee el
// filtro con {0} sustituido por el username (escapado).
func (g *Gateway) findUser(ctx context.Context, cfg *repository.LDAPConfiguration, username string) (*goldap.Entry, error) {
	conn, err := g.bindService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := strings.ReplaceAll(cfg.UserSearchFilter, "{0}", goldap.EscapeFilter(username))
	req := goldap.NewSearchRequest(
		cfg.BaseDN,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		2, // solo necesitamos saber si hay 0, 1 o más
		int(cfg.SearchTimeout.Seconds()),
		false,
		filter,
		searchAttributes(cfg),
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) && res != nil && len(res.Entries) > 0 {
			return res.Entries[0], nil
		}
		if isNetworkErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, fmt.Errorf("%w: search: %v", ErrConfigInvalid, err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0], nil
}

// bindService abre una conexión y hace bind con la cuenta de servicio.
func (g *Gateway) bindService(ctx context.Context, cfg *repository.LDAPConfiguration) (*goldap.Conn, error) {
	conn, err := g.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bindPass := ""
	if cfg.BindPasswordEncrypted != "" {
		bindPass, err = g.secrets.Decrypt(cfg.BindPasswordEncrypted)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: bind password: %v", ErrConfigInvalid, err)
		}
	}
	if err := conn.Bind(cfg.BindDN, bindPass); err != nil {
		conn.Close()
		if isNetworkErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, fmt.Errorf("%w: service bind rejected: %v", ErrConfigInvalid, err)
	}
	return conn, nil
}

// connect abre la conexión según el modo TLS. Si SSL y StartTLS están ambos
// configurados, SSL gana. La conexión se cierra sola si el contexto muere.
func (g *Gateway) connect(ctx context.Context, cfg *repository.LDAPConfiguration) (*goldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	scheme := "ldap"
	if cfg.UseSSL {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	var opts []goldap.DialOpt
	if cfg.UseSSL {
		opts = append(opts, goldap.DialWithTLSConfig(&tls.Config{ServerName: cfg.Host}))
	}

	conn, err := goldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrUpstream, err)
	}
	conn.SetTimeout(cfg.ConnectTimeout)

	if cfg.UseStartTLS && !cfg.UseSSL {
		if err := conn.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: starttls: %v", ErrUpstream, err)
		}
	}

	// Cancelación: cerrar la conexión desbloquea cualquier operación en vuelo.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return conn, nil
}

// requireUsable rechaza configuraciones que no pueden operar. Los timeouts
// son configuración obligatoria, no defaults implícitos.
func requireUsable(cfg *repository.LDAPConfiguration) error {
	switch {
	case cfg == nil:
		return fmt.Errorf("%w: nil", ErrConfigInvalid)
	case strings.TrimSpace(cfg.Host) == "":
		return fmt.Errorf("%w: empty host", ErrConfigInvalid)
	case cfg.Port < 1 || cfg.Port > 65535:
		return fmt.Errorf("%w: port out of range", ErrConfigInvalid)
	case strings.TrimSpace(cfg.BaseDN) == "":
		return fmt.Errorf("%w: empty base dn", ErrConfigInvalid)
	case !strings.Contains(cfg.UserSearchFilter, "{0}"):
		return fmt.Errorf("%w: user search filter must contain {0}", ErrConfigInvalid)
	case cfg.ConnectTimeout <= 0 || cfg.SearchTimeout <= 0:
		return fmt.Errorf("%w: timeouts are mandatory", ErrConfigInvalid)
	}
	return nil
}

func searchAttributes(cfg *repository.LDAPConfiguration) []string {
	return []string{
		attrOr(cfg.EmailAttribute, defaultEmailAttr),
		attrOr(cfg.GivenNameAttribute, defaultGivenNameAttr),
		attrOr(cfg.FamilyNameAttribute, defaultFamilyNameAttr),
		attrOr(cfg.DisplayNameAttribute, defaultDisplayNameAttr),
		attrOr(cfg.GroupAttribute, defaultGroupAttr),
	}
}

func attrOr(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// mapEntry traduce una entrada del directorio a la identidad normalizada.
// Los DNs de grupo se reducen a su leaf CN.
func mapEntry(cfg *repository.LDAPConfiguration, e *goldap.Entry) *identity.Normalized {
	id := &identity.Normalized{
		Provider:    "ldap",
		Email:       e.GetAttributeValue(attrOr(cfg.EmailAttribute, defaultEmailAttr)),
		GivenName:   e.GetAttributeValue(attrOr(cfg.GivenNameAttribute, defaultGivenNameAttr)),
		FamilyName:  e.GetAttributeValue(attrOr(cfg.FamilyNameAttribute, defaultFamilyNameAttr)),
		DisplayName: e.GetAttributeValue(attrOr(cfg.DisplayNameAttribute, defaultDisplayNameAttr)),
	}
	for _, dn := range e.GetAttributeValues(attrOr(cfg.GroupAttribute, defaultGroupAttr)) {
		if cn := LeafCN(dn); cn != "" {
			id.Groups = append(id.Groups, cn)
		}
	}
	return id
}

// LeafCN extrae el CN más específico de un DN de grupo
// ("cn=admins,ou=groups,dc=x" → "admins"). Si el valor no parsea como DN se
// devuelve tal cual: algunos directorios exponen nombres planos.
func LeafCN(dn string) string {
	parsed, err := goldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return strings.TrimSpace(dn)
	}
	for _, attr := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(attr.Type, "cn") {
			return attr.Value
		}
	}
	return strings.TrimSpace(dn)
}

// isNetworkErr clasifica errores del cliente LDAP como fallas de red/timeout.
func isNetworkErr(err error) bool {
	return goldap.IsErrorWithCode(err, goldap.ErrorNetwork) ||
		goldap.IsErrorWithCode(err, goldap.LDAPResultTimeLimitExceeded) ||
		goldap.IsErrorWithCode(err, goldap.LDAPResultUnavailable)
}
