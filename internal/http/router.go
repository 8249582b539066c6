package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/portero/internal/auth"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/rate"
)

// RouterDeps contiene todo lo que el router necesita para armar las rutas.
type RouterDeps struct {
	Login      auth.LoginService
	MFA        auth.MFAService
	Password   auth.PasswordService
	Federation auth.FederationService

	Issuer *jwt.Issuer

	// Limiters por endpoint sensible. nil = sin límite.
	LoginLimiter  rate.Limiter
	ForgotLimiter rate.Limiter
	MFALimiter    rate.Limiter

	// Metrics es el handler de /metrics (promhttp). nil = sin endpoint.
	Metrics http.Handler

	// Ready reporta si las dependencias (storage, cache) responden.
	Ready func(ctx context.Context) error

	CORSAllowedOrigins []string
}

// NewRouter arma el router completo con middlewares globales.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(req.Context()); err != nil {
				WriteError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	requireAuth := RequireAuth(deps.Issuer)

	r.Route("/v1", func(r chi.Router) {
		// Autenticación local
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return WithRateLimit(next, deps.LoginLimiter)
			})
			r.Post("/auth/login", NewLoginHandler(deps.Login))
			r.Post("/auth/ldap/login", NewLDAPLoginHandler(deps.Federation))
		})
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return WithRateLimit(next, deps.MFALimiter)
			})
			r.Post("/auth/mfa/complete", NewMFACompleteHandler(deps.Login))
		})

		// Passwords
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return WithRateLimit(next, deps.ForgotLimiter)
			})
			r.Post("/auth/forgot", NewForgotPasswordHandler(deps.Password))
		})
		r.Post("/auth/reset", NewResetPasswordHandler(deps.Password))
		r.With(requireAuth).Post("/auth/password", NewChangePasswordHandler(deps.Password))

		// MFA self-service
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/mfa/totp/enroll", NewMFAEnrollHandler(deps.MFA))
			r.Post("/mfa/totp/verify", NewMFAVerifyHandler(deps.MFA))
			r.Post("/mfa/totp/disable", NewMFADisableHandler(deps.MFA))
			r.Post("/mfa/recovery/rotate", NewMFARegenerateBackupHandler(deps.MFA))
		})

		// Federación
		r.Get("/sso/{tenant}/{provider}/start", NewSSOStartHandler(deps.Federation))
		r.Get("/sso/{tenant}/{provider}/callback", NewSSOCallbackHandler(deps.Federation))
		r.Post("/sso/{tenant}/{provider}/callback", NewSSOCallbackHandler(deps.Federation))
	})

	// Middlewares globales, de afuera hacia adentro.
	var h http.Handler = r
	h = WithSecurityHeaders(h)
	h = WithLogging(h)
	h = WithRequestID(h)
	h = WithCORS(h, deps.CORSAllowedOrigins)
	return h
}
