package http

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/portero/internal/auth"
)

// writeAuthError traduce los errores de dominio a respuestas HTTP. Los fallos
// de credencial colapsan en un único "invalid_credentials": la respuesta no
// distingue usuario inexistente de password incorrecto.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential),
		errors.Is(err, auth.ErrSignatureInvalid):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
	case errors.Is(err, auth.ErrInvalidMFACode):
		WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "")
	case errors.Is(err, auth.ErrMFANotEnrolled):
		WriteError(w, http.StatusConflict, "mfa_not_enrolled", "")
	case errors.Is(err, auth.ErrAccountLocked):
		WriteError(w, http.StatusLocked, "account_locked", "demasiados intentos fallidos")
	case errors.Is(err, auth.ErrAccountInactive):
		WriteError(w, http.StatusForbidden, "account_inactive", "")
	case errors.Is(err, auth.ErrEmailUnconfirmed):
		WriteError(w, http.StatusForbidden, "email_unconfirmed", "")
	case errors.Is(err, auth.ErrPasswordPolicy):
		WriteError(w, http.StatusUnprocessableEntity, "weak_password", err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		WriteError(w, http.StatusUnauthorized, "token_expired", "")
	case errors.Is(err, auth.ErrTokenMalformed):
		WriteError(w, http.StatusBadRequest, "invalid_token", "")
	case errors.Is(err, auth.ErrConfigurationMissing):
		WriteError(w, http.StatusNotFound, "not_configured", "el tenant no tiene este proveedor configurado")
	case errors.Is(err, auth.ErrConfigurationInvalid):
		WriteError(w, http.StatusServiceUnavailable, "configuration_invalid", "")
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		WriteError(w, http.StatusBadGateway, "upstream_unavailable", "")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
