package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	// TokenTypeMFA marca un token puente de MFA: prueba que el paso 1 del 2FA
	// se completó y no sirve para nada más.
	TokenTypeMFA = "mfa"

	mfaPendingTTL = 5 * time.Minute
)

var (
	// ErrTokenMalformed indica un token que no parsea o con claims de forma inválida.
	ErrTokenMalformed = errors.New("jwt: malformed token")

	// ErrTokenExpired indica un token vencido (sin tolerancia de reloj).
	ErrTokenExpired = errors.New("jwt: token expired")

	// ErrTokenInvalid indica firma inválida o claims que no cumplen.
	ErrTokenInvalid = errors.New("jwt: invalid token")

	// ErrWrongTokenType indica un token MFA usado donde se esperaba un access
	// token, o viceversa.
	ErrWrongTokenType = errors.New("jwt: wrong token type")
)

// AccessClaims es el claim set normalizado de un access token validado.
type AccessClaims struct {
	Subject  string
	Email    string
	Name     string
	TenantID string
	Roles    []string
	Expires  time.Time
}

// Issuer firma HS256 con la clave activa del keyring y valida contra
// cualquier clave del ring (activa o retirada).
type Issuer struct {
	Iss       string
	Keys      *Keyring
	AccessTTL time.Duration
}

// NewIssuer crea un Issuer. Falla rápido si el secreto es corto (ver NewKeyring).
func NewIssuer(iss string, keys *Keyring, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Issuer{Iss: iss, Keys: keys, AccessTTL: accessTTL}
}

// IssueAccess emite un access token con identidad + roles + tenant.
// El claim set se arma una sola vez por emisión; un claim "role" por rol.
func (i *Issuer) IssueAccess(user *repository.User, roles []string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)

	claims := jwtv5.MapClaims{
		"iss":       i.Iss,
		"sub":       user.ID,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       exp.Unix(),
		"email":     user.Email,
		"name":      user.DisplayName,
		"tenant_id": user.TenantID,
	}
	if len(roles) > 0 {
		claims["role"] = roles
	}

	signed, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueMFAPending emite el token puente del paso 1 de 2FA: identidad sola,
// TTL de 5 minutos y token_type=mfa. Ningún endpoint que espere un access
// token debe aceptarlo.
func (i *Issuer) IssueMFAPending(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss":        i.Iss,
		"sub":        userID,
		"iat":        now.Unix(),
		"nbf":        now.Unix(),
		"exp":        now.Add(mfaPendingTTL).Unix(),
		"token_type": TokenTypeMFA,
	}
	return i.sign(claims)
}

// IssueRefresh genera un refresh token opaco de 256 bits y su huella SHA-256.
// La persistencia y rotación del refresh token son responsabilidad del caller.
func (i *Issuer) IssueRefresh() (raw string, fingerprint string, err error) {
	raw, err = tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", "", err
	}
	return raw, tokens.SHA256Base64URL(raw), nil
}

// ValidateAccess verifica firma, expiración (sin tolerancia de reloj) y forma
// de claims de un access token. Un token MFA-pending se rechaza con
// ErrWrongTokenType.
func (i *Issuer) ValidateAccess(token string) (*AccessClaims, error) {
	claims, err := i.parse(token)
	if err != nil {
		return nil, err
	}
	if tt, _ := claims["token_type"].(string); tt == TokenTypeMFA {
		return nil, ErrWrongTokenType
	}

	sub, _ := claims["sub"].(string)
	tid, _ := claims["tenant_id"].(string)
	if sub == "" || tid == "" {
		return nil, ErrTokenMalformed
	}

	out := &AccessClaims{
		Subject:  sub,
		TenantID: tid,
	}
	out.Email, _ = claims["email"].(string)
	out.Name, _ = claims["name"].(string)
	if expf, ok := claims["exp"].(float64); ok {
		out.Expires = time.Unix(int64(expf), 0).UTC()
	}
	switch r := claims["role"].(type) {
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				out.Roles = append(out.Roles, s)
			}
		}
	case string:
		out.Roles = []string{r}
	}
	return out, nil
}

// ValidateMFAPending verifica un token puente de MFA y retorna el sub.
func (i *Issuer) ValidateMFAPending(token string) (string, error) {
	claims, err := i.parse(token)
	if err != nil {
		return "", err
	}
	if tt, _ := claims["token_type"].(string); tt != TokenTypeMFA {
		return "", ErrWrongTokenType
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrTokenMalformed
	}
	return sub, nil
}

func (i *Issuer) sign(claims jwtv5.MapClaims) (string, error) {
	kid, secret := i.Keys.Active()
	if len(secret) < minSecretLen {
		return "", ErrSecretTooShort
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// parse valida firma y tiempos (leeway cero) y retorna los claims crudos.
func (i *Issuer) parse(token string) (jwtv5.MapClaims, error) {
	tk, err := jwtv5.Parse(token, func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			// Sin kid: probar la activa.
			_, secret := i.Keys.Active()
			return secret, nil
		}
		return i.Keys.ByKID(kid)
	},
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwtv5.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwtv5.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenInvalid
		}
	}
	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok || !tk.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
