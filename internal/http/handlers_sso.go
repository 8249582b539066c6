package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/portero/internal/auth"
	"github.com/dropDatabas3/portero/internal/domain/repository"
)

func providerFromURL(r *http.Request) (repository.SSOProvider, bool) {
	switch strings.ToLower(chi.URLParam(r, "provider")) {
	case "saml":
		return repository.SSOProviderSAML, true
	case "oauth":
		return repository.SSOProviderOAuth, true
	case "oidc":
		return repository.SSOProviderOIDC, true
	}
	return "", false
}

// NewSSOStartHandler: GET /v1/sso/{tenant}/{provider}/start
// Redirige al IdP con state (y nonce para OIDC) de un solo uso.
func NewSSOStartHandler(svc auth.FederationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerFromURL(r)
		if !ok {
			WriteError(w, http.StatusNotFound, "unknown_provider", "")
			return
		}
		tenant := chi.URLParam(r, "tenant")

		url, err := svc.Start(r.Context(), tenant, provider)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// NewSSOCallbackHandler atiende la vuelta del IdP.
//
//	GET  /v1/sso/{tenant}/{provider}/callback  (OAuth/OIDC: code+state en query)
//	POST /v1/sso/{tenant}/saml/callback        (SAML: SAMLResponse+RelayState por form)
func NewSSOCallbackHandler(svc auth.FederationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerFromURL(r)
		if !ok {
			WriteError(w, http.StatusNotFound, "unknown_provider", "")
			return
		}
		tenant := chi.URLParam(r, "tenant")

		var in auth.CallbackInput
		if provider == repository.SSOProviderSAML {
			if err := r.ParseForm(); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid_form", "")
				return
			}
			in.RawSAMLResponse = r.PostFormValue("SAMLResponse")
			in.RelayState = r.PostFormValue("RelayState")
			if in.RawSAMLResponse == "" {
				WriteError(w, http.StatusBadRequest, "missing_fields", "SAMLResponse es requerido")
				return
			}
		} else {
			q := r.URL.Query()
			in.Code = q.Get("code")
			in.State = q.Get("state")
			in.ProviderError = q.Get("error")
			if in.State == "" {
				WriteError(w, http.StatusBadRequest, "missing_fields", "state es requerido")
				return
			}
		}

		session, err := svc.Callback(r.Context(), tenant, provider, in)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusOK, sessionBody(session))
	}
}

type ldapLoginRequest struct {
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewLDAPLoginHandler: POST /v1/auth/ldap/login
// Username+password contra el directorio del tenant; la sesión que sale es
// idéntica a la de un login local.
func NewLDAPLoginHandler(svc auth.FederationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ldapLoginRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		if req.TenantID == "" || strings.TrimSpace(req.Username) == "" || req.Password == "" {
			WriteError(w, http.StatusBadRequest, "missing_fields", "tenant_id, username y password son requeridos")
			return
		}

		session, err := svc.DirectoryLogin(r.Context(), req.TenantID, req.Username, req.Password)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sessionBody(session))
	}
}
