package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/pem"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

func samlConfig(certPEM string) *repository.SSOConfiguration {
	return &repository.SSOConfiguration{
		ID:                    "sso-1",
		TenantID:              "t1",
		Provider:              repository.SSOProviderSAML,
		EntityID:              "https://portero.example.com/metadata",
		SSOURL:                "https://idp.example.com/sso",
		CallbackURL:           "https://portero.example.com/sso/saml/callback",
		SigningCertificatePEM: certPEM,
	}
}

// buildResponse arma una Response con una Assertion; si sign no es nil, firma
// la aserción con ese contexto.
func buildResponse(t *testing.T, sign *dsig.SigningContext, email string, notOnOrAfter time.Time) string {
	t.Helper()

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlAssertionNS)
	assertion.CreateAttr("ID", "_assertion-1")
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", time.Now().UTC().Format(time.RFC3339))

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDEmailFmt)
	nameID.SetText(email)

	cond := assertion.CreateElement("saml:Conditions")
	cond.CreateAttr("NotBefore", time.Now().Add(-time.Minute).UTC().Format(time.RFC3339))
	cond.CreateAttr("NotOnOrAfter", notOnOrAfter.UTC().Format(time.RFC3339))

	stmt := assertion.CreateElement("saml:AttributeStatement")
	addAttr := func(name, value string) {
		a := stmt.CreateElement("saml:Attribute")
		a.CreateAttr("Name", name)
		a.CreateElement("saml:AttributeValue").SetText(value)
	}
	addAttr("givenName", "Ada")
	addAttr("sn", "Lovelace")
	addAttr("memberOf", "engineers")

	payload := assertion
	if sign != nil {
		signed, err := sign.SignEnveloped(assertion)
		require.NoError(t, err)
		payload = signed
	}

	doc := etree.NewDocument()
	resp := doc.CreateElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", samlProtocolNS)
	resp.CreateAttr("ID", "_response-1")
	resp.CreateAttr("Version", "2.0")
	status := resp.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", statusSuccess)
	resp.AddChild(payload)

	raw, err := doc.WriteToBytes()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func testKeyAndCert(t *testing.T) (*dsig.SigningContext, string) {
	t.Helper()
	ks := dsig.RandomKeyStoreForTest()
	sign := dsig.NewDefaultSigningContext(ks)
	_, certDER, err := ks.GetKeyPair()
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	return sign, string(certPEM)
}

func TestProcessResponseSignedAssertion(t *testing.T) {
	sign, certPEM := testKeyAndCert(t)
	svc := NewService()

	raw := buildResponse(t, sign, "Ada@Example.com", time.Now().Add(5*time.Minute))
	id, err := svc.ProcessResponse(samlConfig(certPEM), raw)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada", id.GivenName)
	assert.Equal(t, "Lovelace", id.FamilyName)
	assert.Equal(t, []string{"engineers"}, id.Groups)
	assert.Equal(t, "saml", id.Provider)
}

func TestProcessResponseUnsignedAlwaysRejected(t *testing.T) {
	_, certPEM := testKeyAndCert(t)
	svc := NewService()

	raw := buildResponse(t, nil, "ada@example.com", time.Now().Add(5*time.Minute))
	_, err := svc.ProcessResponse(samlConfig(certPEM), raw)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestProcessResponseWrongCertRejected(t *testing.T) {
	sign, _ := testKeyAndCert(t)
	_, otherCert := testKeyAndCert(t)
	svc := NewService()

	raw := buildResponse(t, sign, "ada@example.com", time.Now().Add(5*time.Minute))
	_, err := svc.ProcessResponse(samlConfig(otherCert), raw)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestProcessResponseNoCertificateConfigured(t *testing.T) {
	sign, _ := testKeyAndCert(t)
	svc := NewService()

	raw := buildResponse(t, sign, "ada@example.com", time.Now().Add(5*time.Minute))
	_, err := svc.ProcessResponse(samlConfig(""), raw)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestProcessResponseExpiredConditions(t *testing.T) {
	sign, certPEM := testKeyAndCert(t)
	svc := NewService()

	raw := buildResponse(t, sign, "ada@example.com", time.Now().Add(-time.Minute))
	_, err := svc.ProcessResponse(samlConfig(certPEM), raw)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestProcessResponseMalformed(t *testing.T) {
	_, certPEM := testKeyAndCert(t)
	svc := NewService()

	_, err := svc.ProcessResponse(samlConfig(certPEM), "%%%not-base64%%%")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = svc.ProcessResponse(samlConfig(certPEM), base64.StdEncoding.EncodeToString([]byte("<broken")))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBuildAuthnRequestURL(t *testing.T) {
	svc := NewService()
	cfg := samlConfig("")

	rawURL, relay, err := svc.BuildAuthnRequestURL(cfg, "")
	require.NoError(t, err)
	assert.NotEmpty(t, relay)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, relay, u.Query().Get("RelayState"))

	// SAMLRequest: base64 → inflate → XML con Issuer y Destination.
	compressed, err := base64.StdEncoding.DecodeString(u.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	xml := string(inflated)
	assert.True(t, strings.Contains(xml, cfg.EntityID))
	assert.True(t, strings.Contains(xml, cfg.SSOURL))
	assert.True(t, strings.Contains(xml, "AuthnRequest"))
}

func TestBuildAuthnRequestURLRequiresConfig(t *testing.T) {
	svc := NewService()
	cfg := samlConfig("")
	cfg.SSOURL = ""
	_, _, err := svc.BuildAuthnRequestURL(cfg, "state-1")
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestValidateConfigurationCertificateWindow(t *testing.T) {
	_, certPEM := testKeyAndCert(t)
	svc := NewService()

	assert.Empty(t, svc.ValidateConfiguration(samlConfig(certPEM)))

	cfg := samlConfig(certPEM)
	cfg.EntityID = ""
	problems := svc.ValidateConfiguration(cfg)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "entity id")

	cfg = samlConfig("not a certificate")
	problems = svc.ValidateConfiguration(cfg)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "PEM")
}
