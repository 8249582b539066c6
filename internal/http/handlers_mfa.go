package http

import (
	"net/http"

	"github.com/dropDatabas3/portero/internal/auth"
)

type mfaEnrollResponse struct {
	SecretBase32 string   `json:"secret_base32"`
	OTPAuthURL   string   `json:"otpauth_url"`
	BackupCodes  []string `json:"backup_codes"`
}

// NewMFAEnrollHandler: POST /v1/mfa/totp/enroll (requiere Bearer)
// Genera secreto + backup codes; MFA queda deshabilitado hasta verificar.
func NewMFAEnrollHandler(svc auth.MFAService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		setup, err := svc.Setup(r.Context(), claims.Subject)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		// Los backup codes en claro viajan una única vez.
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusOK, mfaEnrollResponse{
			SecretBase32: setup.SecretBase32,
			OTPAuthURL:   setup.OTPAuthURL,
			BackupCodes:  setup.BackupCodes,
		})
	}
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// NewMFAVerifyHandler: POST /v1/mfa/totp/verify (requiere Bearer)
// Confirma el enrolamiento con el primer código.
func NewMFAVerifyHandler(svc auth.MFAService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		var req mfaCodeRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.Code == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "code es requerido")
			return
		}
		if err := svc.VerifySetup(r.Context(), claims.Subject, req.Code); err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
	}
}

type mfaPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
}

// NewMFADisableHandler: POST /v1/mfa/totp/disable (requiere Bearer + password)
func NewMFADisableHandler(svc auth.MFAService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		var req mfaPasswordRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.CurrentPassword == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "current_password es requerido")
			return
		}
		if err := svc.Disable(r.Context(), claims.Subject, req.CurrentPassword); err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
	}
}

type mfaBackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// NewMFARegenerateBackupHandler: POST /v1/mfa/recovery/rotate (requiere Bearer + password)
// Reemplaza el set completo: los códigos anteriores quedan invalidados.
func NewMFARegenerateBackupHandler(svc auth.MFAService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		var req mfaPasswordRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.CurrentPassword == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "current_password es requerido")
			return
		}
		codes, err := svc.RegenerateBackupCodes(r.Context(), claims.Subject, req.CurrentPassword)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusOK, mfaBackupCodesResponse{BackupCodes: codes})
	}
}
