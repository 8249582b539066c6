package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/portero/internal/jwt"
)

type claimsKey struct{}

// ClaimsFrom retorna los claims del access token validado por RequireAuth.
func ClaimsFrom(ctx context.Context) (*jwt.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*jwt.AccessClaims)
	return c, ok
}

// RequireAuth exige un access token Bearer válido y deja los claims en el
// contexto. Los tokens puente de MFA no pasan.
func RequireAuth(issuer *jwt.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="portero"`)
				WriteError(w, http.StatusUnauthorized, "missing_token", "")
				return
			}
			claims, err := issuer.ValidateAccess(raw)
			if err != nil {
				code := "invalid_token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					code = "token_expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteError(w, http.StatusUnauthorized, code, "")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
