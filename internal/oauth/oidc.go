package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
)

// ProcessOIDCCallback maneja el callback OIDC: canjea el code y valida el ID
// token devuelto contra el certificado configurado. El nonce enviado en la
// autorización debe volver idéntico en el claim nonce.
func (c *Client) ProcessOIDCCallback(ctx context.Context, cfg *repository.SSOConfiguration, code, providerErr, expectedNonce string) (*identity.Normalized, error) {
	if providerErr != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderError, providerErr)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrRejected)
	}

	tok, err := c.exchange(ctx, cfg, code)
	if err != nil {
		return nil, err
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, fmt.Errorf("%w: token response carries no id_token", ErrRejected)
	}

	claims, err := c.VerifyIDToken(cfg, rawID, expectedNonce)
	if err != nil {
		return nil, err
	}
	id := mapClaims(cfg, claims, "oidc")
	if !id.Normalize() {
		return nil, fmt.Errorf("%w: id token carries no email", ErrRejected)
	}
	return id, nil
}

// VerifyIDToken valida firma, issuer, audience, expiry y nonce de un ID token.
//
// La firma se verifica contra el certificado X.509 configurado del provider,
// no contra un JWKS remoto: la clave de confianza la fija el administrador
// del tenant. Issuer aceptado: authority o entity id configurados.
func (c *Client) VerifyIDToken(cfg *repository.SSOConfiguration, rawToken, expectedNonce string) (map[string]any, error) {
	pub, err := signerPublicKey(cfg)
	if err != nil {
		return nil, err
	}

	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithAudience(cfg.ClientID),
	)
	tok, err := parser.Parse(rawToken, func(*jwtv5.Token) (any, error) { return pub, nil })
	switch {
	case err == nil:
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return nil, fmt.Errorf("%w: id token expired", ErrRejected)
	case errors.Is(err, jwtv5.ErrTokenInvalidAudience):
		return nil, fmt.Errorf("%w: audience does not match client id", ErrRejected)
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: signature does not verify", ErrRejected)
	default:
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims shape", ErrRejected)
	}

	iss, _ := claims["iss"].(string)
	if !issuerAccepted(cfg, iss) {
		return nil, fmt.Errorf("%w: issuer %q not accepted", ErrRejected, iss)
	}
	if expectedNonce != "" {
		if got, _ := claims["nonce"].(string); got != expectedNonce {
			return nil, fmt.Errorf("%w: nonce mismatch", ErrRejected)
		}
	}
	return claims, nil
}

// issuerAccepted compara el iss contra authority y entity id, tolerando la
// barra final.
func issuerAccepted(cfg *repository.SSOConfiguration, iss string) bool {
	if iss == "" {
		return false
	}
	norm := strings.TrimSuffix(iss, "/")
	for _, accepted := range []string{cfg.Authority, cfg.EntityID} {
		if accepted != "" && strings.TrimSuffix(accepted, "/") == norm {
			return true
		}
	}
	return false
}

// signerPublicKey extrae la clave pública del certificado configurado.
func signerPublicKey(cfg *repository.SSOConfiguration) (any, error) {
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
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %T", ErrConfigInvalid, cert.PublicKey)
	}
}
