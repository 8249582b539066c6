package saml

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
)

const statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// ProcessResponse valida una Response SAML (binding POST: base64 directo) y
// extrae la identidad normalizada de la aserción.
//
// Sin certificado configurado o sin elemento <Signature> la respuesta se
// rechaza siempre: las aserciones sin firma no se confían jamás. Solo se leen
// atributos del subárbol que la verificación de firma devolvió, nunca del
// documento original.
func (s *Service) ProcessResponse(cfg *repository.SSOConfiguration, rawResponse string) (*identity.Normalized, error) {
	cert, err := signingCertificate(cfg)
	if err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rawResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(decoded); err != nil {
		return nil, fmt.Errorf("%w: xml: %v", ErrMalformed, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Response" {
		return nil, fmt.Errorf("%w: root element is not a Response", ErrMalformed)
	}

	if status := statusOf(root); status != statusSuccess {
		return nil, fmt.Errorf("%w: idp status %q", ErrRejected, status)
	}

	assertion, err := verifiedAssertion(root, cert)
	if err != nil {
		return nil, err
	}

	if err := s.checkConditions(assertion); err != nil {
		return nil, err
	}

	id := extractIdentity(cfg, assertion)
	if !id.Normalize() {
		return nil, fmt.Errorf("%w: assertion carries no email", ErrRejected)
	}
	return id, nil
}

// verifiedAssertion verifica la firma XML-DSig y devuelve el elemento
// Assertion del subárbol validado. Acepta firma a nivel Response o a nivel
// Assertion; sin firma en ninguno de los dos, rechaza.
func verifiedAssertion(root *etree.Element, cert *x509.Certificate) (*etree.Element, error) {
	vctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})

	if directChild(root, "Signature") != nil {
		validated, err := vctx.Validate(root)
		if err != nil {
			return nil, fmt.Errorf("%w: response signature: %v", ErrSignatureInvalid, err)
		}
		assertion := directChild(validated, "Assertion")
		if assertion == nil {
			return nil, fmt.Errorf("%w: signed response has no assertion", ErrRejected)
		}
		return assertion, nil
	}

	assertion := directChild(root, "Assertion")
	if assertion == nil {
		return nil, fmt.Errorf("%w: response has no assertion", ErrRejected)
	}
	if directChild(assertion, "Signature") == nil {
		return nil, fmt.Errorf("%w: response is unsigned", ErrSignatureInvalid)
	}
	validated, err := vctx.Validate(assertion)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion signature: %v", ErrSignatureInvalid, err)
	}
	return validated, nil
}

// checkConditions aplica la ventana de validez de la aserción sin tolerancia
// de skew.
func (s *Service) checkConditions(assertion *etree.Element) error {
	cond := directChild(assertion, "Conditions")
	if cond == nil {
		return nil
	}
	now := s.now()
	if v := cond.SelectAttrValue("NotBefore", ""); v != "" {
		t, err := parseSAMLTime(v)
		if err != nil {
			return fmt.Errorf("%w: NotBefore: %v", ErrMalformed, err)
		}
		if now.Before(t) {
			return fmt.Errorf("%w: assertion not yet valid", ErrRejected)
		}
	}
	if v := cond.SelectAttrValue("NotOnOrAfter", ""); v != "" {
		t, err := parseSAMLTime(v)
		if err != nil {
			return fmt.Errorf("%w: NotOnOrAfter: %v", ErrMalformed, err)
		}
		if !now.Before(t) {
			return fmt.Errorf("%w: assertion expired", ErrRejected)
		}
	}
	return nil
}

// extractIdentity mapea NameID y el AttributeStatement a la identidad
// normalizada según los mapeos configurados (o los defaults).
func extractIdentity(cfg *repository.SSOConfiguration, assertion *etree.Element) *identity.Normalized {
	id := &identity.Normalized{Provider: "saml"}

	if subject := directChild(assertion, "Subject"); subject != nil {
		if nameID := directChild(subject, "NameID"); nameID != nil {
			if v := strings.TrimSpace(nameID.Text()); strings.Contains(v, "@") {
				id.Email = v
			}
		}
	}

	stmt := directChild(assertion, "AttributeStatement")
	if stmt == nil {
		return id
	}
	for _, attr := range stmt.ChildElements() {
		if attr.Tag != "Attribute" {
			continue
		}
		name := attr.SelectAttrValue("Name", "")
		claim := claimFor(cfg, name)
		if claim == "" {
			continue
		}
		var values []string
		for _, av := range attr.ChildElements() {
			if av.Tag != "AttributeValue" {
				continue
			}
			if v := strings.TrimSpace(av.Text()); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		switch claim {
		case claimEmail:
			id.Email = values[0]
		case claimGivenName:
			id.GivenName = values[0]
		case claimFamilyName:
			id.FamilyName = values[0]
		case claimDisplayName:
			id.DisplayName = values[0]
		case claimGroups:
			id.Groups = append(id.Groups, values...)
		}
	}
	return id
}

// parseSAMLTime acepta xs:dateTime con o sin fracción de segundo.
func parseSAMLTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func statusOf(root *etree.Element) string {
	status := directChild(root, "Status")
	if status == nil {
		return ""
	}
	code := directChild(status, "StatusCode")
	if code == nil {
		return ""
	}
	return code.SelectAttrValue("Value", "")
}

// directChild busca un hijo directo por nombre local, ignorando el prefijo de
// namespace.
func directChild(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}
