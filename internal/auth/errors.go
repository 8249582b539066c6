// Package auth contiene los servicios de autenticación: password con
// lockout, MFA TOTP con backup codes, reset de password, provisioning de
// identidades federadas y el despacho de federación (directorio, SAML,
// OAuth2, OIDC). Todos los caminos convergen en la misma emisión de tokens.
package auth

import "errors"

// Errores de los servicios de autenticación. El caller HTTP los traduce a
// mensajes genéricos; el detalle interno solo va al log.
var (
	// ErrInvalidCredential cubre usuario desconocido y password incorrecto.
	// Indistinguibles para el caller, siempre.
	ErrInvalidCredential = errors.New("auth: invalid credentials")

	// ErrAccountLocked indica lockout vigente; incluso el password correcto
	// falla con este error hasta que venza.
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrAccountInactive indica cuenta inactiva o suspendida.
	ErrAccountInactive = errors.New("auth: account inactive")

	// ErrEmailUnconfirmed indica que el email todavía no fue confirmado.
	ErrEmailUnconfirmed = errors.New("auth: email not confirmed")

	// ErrMFARequired no es una falla: señala que falta el segundo factor.
	ErrMFARequired = errors.New("auth: mfa required")

	// ErrInvalidMFACode indica un código TOTP o backup code incorrecto.
	ErrInvalidMFACode = errors.New("auth: invalid mfa code")

	// ErrMFANotEnrolled indica una operación MFA sobre un usuario sin secreto.
	ErrMFANotEnrolled = errors.New("auth: mfa not enrolled")

	// ErrPasswordPolicy indica un password nuevo que no cumple la política
	// o que reusa uno de la ventana de historial.
	ErrPasswordPolicy = errors.New("auth: password rejected by policy")

	// ErrConfigurationMissing indica federación/LDAP sin configurar para el tenant.
	ErrConfigurationMissing = errors.New("auth: configuration missing")

	// ErrConfigurationInvalid indica configuración presente pero inservible.
	ErrConfigurationInvalid = errors.New("auth: configuration invalid")

	// ErrUpstreamUnavailable indica falla de red o timeout contra el
	// directorio o el IdP. Este core intenta exactamente una vez; el retry,
	// si existe, es del caller.
	ErrUpstreamUnavailable = errors.New("auth: upstream unavailable")

	// ErrSignatureInvalid indica una falla de confianza SAML/OIDC. Fatal,
	// nunca se reintenta.
	ErrSignatureInvalid = errors.New("auth: signature invalid")

	// ErrTokenExpired indica un token vencido (reset, MFA pendiente, state SSO).
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenMalformed indica un token que no parsea o no valida.
	ErrTokenMalformed = errors.New("auth: token malformed")
)
