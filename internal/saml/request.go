package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

const (
	samlProtocolNS  = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlAssertionNS = "urn:oasis:names:tc:SAML:2.0:assertion"
	nameIDEmailFmt  = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	postBinding     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
)

// BuildAuthnRequestURL arma la URL de redirección al IdP con el AuthnRequest
// deflate+base64 en SAMLRequest, según el binding HTTP-Redirect. relayState
// vacío genera uno aleatorio; el caller debe guardarlo para correlacionar el
// callback.
func (s *Service) BuildAuthnRequestURL(cfg *repository.SSOConfiguration, relayState string) (requestURL, usedRelayState string, err error) {
	if cfg == nil || strings.TrimSpace(cfg.SSOURL) == "" || strings.TrimSpace(cfg.EntityID) == "" {
		return "", "", fmt.Errorf("%w: entity id and sso url are required", ErrConfigInvalid)
	}
	if relayState == "" {
		relayState = uuid.NewString()
	}

	doc := etree.NewDocument()
	req := doc.CreateElement("samlp:AuthnRequest")
	req.CreateAttr("xmlns:samlp", samlProtocolNS)
	req.CreateAttr("xmlns:saml", samlAssertionNS)
	req.CreateAttr("ID", "_"+uuid.NewString())
	req.CreateAttr("Version", "2.0")
	req.CreateAttr("IssueInstant", s.now().UTC().Format(time.RFC3339))
	req.CreateAttr("Destination", cfg.SSOURL)
	req.CreateAttr("ProtocolBinding", postBinding)
	if cfg.CallbackURL != "" {
		req.CreateAttr("AssertionConsumerServiceURL", cfg.CallbackURL)
	}
	req.CreateElement("saml:Issuer").SetText(cfg.EntityID)
	policy := req.CreateElement("samlp:NameIDPolicy")
	policy.CreateAttr("Format", nameIDEmailFmt)
	policy.CreateAttr("AllowCreate", "true")

	raw, err := doc.WriteToBytes()
	if err != nil {
		return "", "", fmt.Errorf("serialize authn request: %w", err)
	}

	// Binding HTTP-Redirect: deflate crudo y después base64.
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", "", fmt.Errorf("deflate authn request: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", "", fmt.Errorf("deflate authn request: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("deflate authn request: %w", err)
	}

	u, err := url.Parse(cfg.SSOURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: sso url does not parse: %v", ErrConfigInvalid, err)
	}
	q := u.Query()
	q.Set("SAMLRequest", base64.StdEncoding.EncodeToString(buf.Bytes()))
	q.Set("RelayState", relayState)
	u.RawQuery = q.Encode()
	return u.String(), relayState, nil
}
