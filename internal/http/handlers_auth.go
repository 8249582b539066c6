package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/portero/internal/auth"
)

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type sessionResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Roles        []string `json:"roles,omitempty"`
}

type mfaPendingResponse struct {
	MFARequired     bool   `json:"mfa_required"`
	MFAPendingToken string `json:"mfa_pending_token"`
}

func sessionBody(s *auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    int64(time.Until(s.ExpiresAt).Seconds()),
		Roles:        s.Roles,
	}
}

// NewLoginHandler: POST /v1/auth/login
func NewLoginHandler(svc auth.LoginService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.TenantID == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "tenant_id, email y password son requeridos")
			return
		}

		res, err := svc.Login(r.Context(), req.TenantID, req.Email, req.Password, req.MFACode)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if res.RequiresMFA {
			WriteJSON(w, http.StatusOK, mfaPendingResponse{
				MFARequired:     true,
				MFAPendingToken: res.MFAPendingToken,
			})
			return
		}
		WriteJSON(w, http.StatusOK, sessionBody(res.Session))
	}
}

type mfaCompleteRequest struct {
	MFAPendingToken string `json:"mfa_pending_token"`
	Code            string `json:"code"`
}

// NewMFACompleteHandler: POST /v1/auth/mfa/complete
// Canjea el token puente del paso 1 + un código TOTP o backup code.
func NewMFACompleteHandler(svc auth.LoginService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mfaCompleteRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.MFAPendingToken == "" || req.Code == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "mfa_pending_token y code son requeridos")
			return
		}

		res, err := svc.CompleteMFA(r.Context(), req.MFAPendingToken, req.Code)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sessionBody(res.Session))
	}
}

type forgotRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

// NewForgotPasswordHandler: POST /v1/auth/forgot
// Responde 202 siempre: que el email exista o no, no se observa desde afuera.
func NewForgotPasswordHandler(svc auth.PasswordService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forgotRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.TenantID == "" || strings.TrimSpace(req.Email) == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "tenant_id y email son requeridos")
			return
		}

		if err := svc.RequestReset(r.Context(), req.TenantID, req.Email); err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// NewResetPasswordHandler: POST /v1/auth/reset
func NewResetPasswordHandler(svc auth.PasswordService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.Token == "" || req.NewPassword == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "token y new_password son requeridos")
			return
		}

		if err := svc.ConfirmReset(r.Context(), req.Token, req.NewPassword); err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// NewChangePasswordHandler: POST /v1/auth/password (requiere Bearer)
func NewChangePasswordHandler(svc auth.PasswordService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		var req changePasswordRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.CurrentPassword == "" || req.NewPassword == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "current_password y new_password son requeridos")
			return
		}

		if err := svc.Change(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
