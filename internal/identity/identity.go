// Package identity define la identidad normalizada que produce cualquier
// método de autenticación (password, LDAP, SAML, OAuth, OIDC) antes de la
// resolución del usuario local.
package identity

import "strings"

// Normalized es la forma común {email, nombres, grupos} que entregan todos
// los gateways. Email es obligatorio; el resto es best-effort según lo que
// exponga el proveedor.
type Normalized struct {
	Email       string
	GivenName   string
	FamilyName  string
	DisplayName string
	// Groups son los grupos/roles que asevera el proveedor, ya reducidos a su
	// nombre simple (leaf CN para LDAP, valor del claim para SAML/OIDC).
	Groups []string
	// Provider es el método que produjo la identidad:
	// "password", "ldap", "saml", "oauth", "oidc".
	Provider string
}

// Normalize baja el email a minúsculas y recorta espacios. Retorna false si
// después de normalizar no queda email: sin email no hay identidad.
func (n *Normalized) Normalize() bool {
	n.Email = strings.ToLower(strings.TrimSpace(n.Email))
	n.GivenName = strings.TrimSpace(n.GivenName)
	n.FamilyName = strings.TrimSpace(n.FamilyName)
	n.DisplayName = strings.TrimSpace(n.DisplayName)
	if n.DisplayName == "" {
		n.DisplayName = strings.TrimSpace(n.GivenName + " " + n.FamilyName)
	}
	return n.Email != ""
}
