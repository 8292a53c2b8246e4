package token

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/moov-io/signedxml"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
)

// SAML and XML-DSig identifiers
const (
	NamespaceSAML2 = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceDSig  = "http://www.w3.org/2000/09/xmldsig#"

	ConfirmationSenderVouches = "urn:oasis:names:tc:SAML:2.0:cm:sender-vouches"
	AuthnContextX509          = "urn:oasis:names:tc:SAML:2.0:ac:classes:X509"
	NameIDFormatUnspecified   = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	AttributeAssuranceLevel   = "urn:eu:busdox:attribute:assurance-level"

	algExcC14N    = "http://www.w3.org/2001/10/xml-exc-c14n#"
	algRSASHA256  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algSHA256     = "http://www.w3.org/2001/04/xmlenc#sha256"
	algEnveloped  = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	samlTimestamp = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrNoSender is returned when the sender identifier is empty
	ErrNoSender = errors.New("sender identifier is required")
	// ErrNoAudience is returned when the target URL is empty
	ErrNoAudience = errors.New("target URL is required")
	// ErrUnsupportedKey is returned when the client key cannot produce an RSA-SHA256 signature
	ErrUnsupportedKey = errors.New("client key must be an RSA private key")
)

// Token is a minted security token
type Token struct {
	ID        string
	Assertion []byte
	IssuedAt  time.Time
	Expires   time.Time
}

// Element parses the assertion for embedding in a message header
func (t *Token) Element() (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(t.Assertion); err != nil {
		return nil, fmt.Errorf("failed to parse assertion: %w", err)
	}
	if doc.Root() == nil {
		return nil, errors.New("empty assertion")
	}
	return doc.Root(), nil
}

// Minter turns a sender identity into a token for one call
type Minter interface {
	Mint(senderID string, assuranceLevel int, targetURL string, clientCert tls.Certificate) (*Token, error)
}

// SAMLMinter mints signed SAML 2.0 sender-vouches assertions
type SAMLMinter struct {
	lifetime time.Duration
	skew     time.Duration
	now      func() time.Time
}

// MinterOption configures a SAMLMinter
type MinterOption func(*SAMLMinter)

// WithLifetime sets how long an assertion is valid, 5 minutes by default
func WithLifetime(d time.Duration) MinterOption {
	return func(m *SAMLMinter) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClockSkew backdates NotBefore to allow for clock differences, 1 minute by default
func WithClockSkew(d time.Duration) MinterOption {
	return func(m *SAMLMinter) {
		m.skew = d
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) MinterOption {
	return func(m *SAMLMinter) {
		m.now = now
	}
}

// NewSAMLMinter creates a minter
func NewSAMLMinter(opts ...MinterOption) *SAMLMinter {
	m := &SAMLMinter{
		lifetime: 5 * time.Minute,
		skew:     time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint builds and signs an assertion vouching for senderID towards targetURL
func (m *SAMLMinter) Mint(senderID string, assuranceLevel int, targetURL string, clientCert tls.Certificate) (*Token, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, ErrNoSender
	}
	if targetURL == "" {
		return nil, ErrNoAudience
	}
	key, ok := clientCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrUnsupportedKey, clientCert.PrivateKey)
	}
	cert, err := leafCertificate(clientCert)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	tok := &Token{
		ID:       "_" + uuid.NewString(),
		IssuedAt: now,
		Expires:  now.Add(m.lifetime),
	}

	doc := m.buildAssertion(tok, senderID, assuranceLevel, targetURL, cert)
	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to write assertion: %w", err)
	}

	signer, err := signedxml.NewSigner(xmlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	signer.SetReferenceIDAttribute("ID")

	signed, err := signer.Sign(key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	tok.Assertion = []byte(signed)
	return tok, nil
}

func (m *SAMLMinter) buildAssertion(tok *Token, senderID string, assuranceLevel int, targetURL string, cert *x509.Certificate) *etree.Document {
	doc := etree.NewDocument()

	assertion := doc.CreateElement("saml2:Assertion")
	assertion.CreateAttr("xmlns:saml2", NamespaceSAML2)
	assertion.CreateAttr("ID", tok.ID)
	assertion.CreateAttr("IssueInstant", tok.IssuedAt.Format(samlTimestamp))
	assertion.CreateAttr("Version", "2.0")

	issuer := assertion.CreateElement("saml2:Issuer")
	issuer.SetText(cert.Subject.CommonName)

	// the signature must follow Issuer
	addSignatureTemplate(assertion, tok.ID, cert)

	subject := assertion.CreateElement("saml2:Subject")
	nameID := subject.CreateElement("saml2:NameID")
	nameID.CreateAttr("Format", NameIDFormatUnspecified)
	nameID.CreateAttr("NameQualifier", peppol.ParticipantScheme)
	nameID.SetText(senderID)
	confirmation := subject.CreateElement("saml2:SubjectConfirmation")
	confirmation.CreateAttr("Method", ConfirmationSenderVouches)

	conditions := assertion.CreateElement("saml2:Conditions")
	conditions.CreateAttr("NotBefore", tok.IssuedAt.Add(-m.skew).Format(samlTimestamp))
	conditions.CreateAttr("NotOnOrAfter", tok.Expires.Format(samlTimestamp))
	audience := conditions.CreateElement("saml2:AudienceRestriction").CreateElement("saml2:Audience")
	audience.SetText(targetURL)

	authn := assertion.CreateElement("saml2:AuthnStatement")
	authn.CreateAttr("AuthnInstant", tok.IssuedAt.Format(samlTimestamp))
	classRef := authn.CreateElement("saml2:AuthnContext").CreateElement("saml2:AuthnContextClassRef")
	classRef.SetText(AuthnContextX509)

	attribute := assertion.CreateElement("saml2:AttributeStatement").CreateElement("saml2:Attribute")
	attribute.CreateAttr("Name", AttributeAssuranceLevel)
	attribute.CreateElement("saml2:AttributeValue").SetText(strconv.Itoa(assuranceLevel))

	return doc
}

func addSignatureTemplate(parent *etree.Element, id string, cert *x509.Certificate) {
	sig := parent.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NamespaceDSig)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", algExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", algRSASHA256)

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "#"+id)
	transforms := ref.CreateElement("ds:Transforms")
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algEnveloped)
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algExcC14N)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA256)
	ref.CreateElement("ds:DigestValue")

	sig.CreateElement("ds:SignatureValue").SetText("placeholder")

	x509Data := sig.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))
}

func leafCertificate(c tls.Certificate) (*x509.Certificate, error) {
	if c.Leaf != nil {
		return c.Leaf, nil
	}
	if len(c.Certificate) == 0 {
		return nil, errors.New("client certificate is empty")
	}
	cert, err := x509.ParseCertificate(c.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	return cert, nil
}
