// Package saml implementa el lado SP del binding HTTP-Redirect/POST de
// SAML 2.0: construcción del AuthnRequest y validación de la Response
// (firma XML-DSig contra el certificado del IdP configurado).
package saml

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

// Errores del gateway SAML.
var (
	// ErrConfigInvalid indica configuración incompleta o certificado roto.
	ErrConfigInvalid = errors.New("saml: invalid configuration")

	// ErrMalformed indica que la respuesta no decodifica o no parsea como XML.
	ErrMalformed = errors.New("saml: malformed response")

	// ErrSignatureInvalid cubre respuesta sin <Signature> y firma que no
	// verifica. Siempre fatal, nunca se reintenta.
	ErrSignatureInvalid = errors.New("saml: signature invalid")

	// ErrRejected indica una respuesta válida pero no aceptable (status de
	// error del IdP, condiciones vencidas, o sin email mapeable).
	ErrRejected = errors.New("saml: response rejected")
)

// Claims normalizados a los que se mapean atributos de la aserción.
const (
	claimEmail       = "email"
	claimGivenName   = "given_name"
	claimFamilyName  = "family_name"
	claimDisplayName = "display_name"
	claimGroups      = "groups"
)

// defaultAttributeClaims mapea nombres de atributo habituales (incluidos los
// URIs de claims de WS-Fed/ADFS) al claim normalizado.
var defaultAttributeClaims = map[string]string{
	"email":       claimEmail,
	"mail":        claimEmail,
	"emailaddress": claimEmail,
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress": claimEmail,
	"givenname": claimGivenName,
	"firstname": claimGivenName,
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname": claimGivenName,
	"sn":       claimFamilyName,
	"surname":  claimFamilyName,
	"lastname": claimFamilyName,
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname": claimFamilyName,
	"displayname": claimDisplayName,
	"cn":          claimDisplayName,
	"groups":   claimGroups,
	"memberof": claimGroups,
	"http://schemas.microsoft.com/ws/2008/06/identity/claims/role": claimGroups,
}

// Service procesa mensajes SAML para las configuraciones por tenant.
// now es inyectable para tests de ventanas de validez.
type Service struct {
	now func() time.Time
}

// NewService crea un Service con reloj del sistema.
func NewService() *Service {
	return &Service{now: time.Now}
}

// claimFor resuelve el claim normalizado de un atributo: primero el mapeo de
// la configuración, después los defaults. "" si no mapea a nada.
func claimFor(cfg *repository.SSOConfiguration, attrName string) string {
	if c, ok := cfg.AttributeMappings[attrName]; ok {
		return c
	}
	return defaultAttributeClaims[strings.ToLower(attrName)]
}

// signingCertificate parsea el certificado X.509 configurado del IdP.
func signingCertificate(cfg *repository.SSOConfiguration) (*x509.Certificate, error) {
	if strings.TrimSpace(cfg.SigningCertificatePEM) == "" {
		return nil, fmt.Errorf("%w: no signing certificate configured", ErrConfigInvalid)
	}
	block, _ := pem.Decode([]byte(cfg.SigningCertificatePEM))
	if block == nil {
		return nil, fmt.Errorf("%w: certificate is not PEM", ErrConfigInvalid)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate does not parse: %v", ErrConfigInvalid, err)
	}
	return cert, nil
}

// ValidateConfiguration revisa que la configuración SAML del tenant esté
// completa y que el certificado esté dentro de su ventana de validez.
func (s *Service) ValidateConfiguration(cfg *repository.SSOConfiguration) []string {
	var problems []string
	if cfg == nil {
		return []string{"configuration is nil"}
	}
	if strings.TrimSpace(cfg.EntityID) == "" {
		problems = append(problems, "entity id is required")
	}
	if strings.TrimSpace(cfg.SSOURL) == "" {
		problems = append(problems, "sso url is required")
	}
	cert, err := signingCertificate(cfg)
	if err != nil {
		problems = append(problems, err.Error())
		return problems
	}
	now := s.now()
	if now.Before(cert.NotBefore) {
		problems = append(problems, fmt.Sprintf("certificate not valid before %s", cert.NotBefore.Format(time.RFC3339)))
	}
	if now.After(cert.NotAfter) {
		problems = append(problems, fmt.Sprintf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339)))
	}
	return problems
}
