package security

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Trust decisions. All of them are terminal rejections and must not be retried
// without operator intervention.
var (
	// ErrNoCertificate is returned when there is no certificate to validate
	ErrNoCertificate = errors.New("no certificate to validate")
	// ErrChainBuildFailed is returned when the issuance chain cannot be built or is invalid
	ErrChainBuildFailed = errors.New("certificate chain could not be built")
	// ErrWrongIssuer is returned when the immediate issuer is not one of the expected CAs
	ErrWrongIssuer = errors.New("certificate issued by the wrong CA")
	// ErrCertificateMismatch is returned when the certificate differs from the pinned one
	ErrCertificateMismatch = errors.New("certificate does not match the expected certificate")
	// ErrNoThumbprintsConfigured is returned when the expected issuer has no pinned thumbprints
	ErrNoThumbprintsConfigured = errors.New("no CA thumbprints configured for the expected issuer")
	// ErrCheckFailed is returned when the caller-supplied check rejects the certificate
	ErrCheckFailed = errors.New("additional certificate check failed")
)

// TrustError describes a rejected certificate. Kind is one of the trust
// sentinel errors above; Err carries the underlying cause when there is one.
// Both can be matched with errors.Is.
type TrustError struct {
	Kind    error
	Subject string
	Err     error
}

func (e *TrustError) Error() string {
	msg := "validation failed: " + e.Kind.Error()
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TrustError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// CertificateCheck is an additional, deployment-specific check run after all
// built-in checks pass. chain is the verified chain starting with cert.
type CertificateCheck func(ctx context.Context, cert *x509.Certificate, chain []*x509.Certificate) error

// TrustContext is the per-validation configuration. Build a new one for every
// dispatch; it is not meant to be shared or mutated concurrently.
type TrustContext struct {
	// ExpectedIssuer selects the intermediate CA thumbprints the issuer must match
	ExpectedIssuer Issuer
	// ExpectedCertificate, when set, must be byte-identical to the validated certificate
	ExpectedCertificate *x509.Certificate
	// RevocationCheck enables OCSP/CRL checking of the end certificate
	RevocationCheck bool
	// Check runs last and may reject the certificate
	Check CertificateCheck
}

// TrustValidator decides whether a counterpart certificate is trusted by the
// network. It holds only read-only state and is safe for concurrent use.
type TrustValidator struct {
	thumbprints   *ThumbprintSet
	roots         *x509.CertPool
	intermediates *x509.CertPool
	revocation    RevocationChecker
	now           func() time.Time
}

// ValidatorOption configures a TrustValidator
type ValidatorOption func(*TrustValidator)

// WithRoots sets the trust anchors used to build chains.
// Without it the system roots are used.
func WithRoots(roots *x509.CertPool) ValidatorOption {
	return func(v *TrustValidator) {
		v.roots = roots
	}
}

// WithIntermediates adds CA certificates available for chain building
func WithIntermediates(certs ...*x509.Certificate) ValidatorOption {
	return func(v *TrustValidator) {
		for _, c := range certs {
			v.intermediates.AddCert(c)
		}
	}
}

// WithIntermediatePool replaces the pool of CA certificates available for chain building
func WithIntermediatePool(pool *x509.CertPool) ValidatorOption {
	return func(v *TrustValidator) {
		if pool != nil {
			v.intermediates = pool
		}
	}
}

// WithRevocationChecker sets the checker used when a TrustContext enables revocation
func WithRevocationChecker(checker RevocationChecker) ValidatorOption {
	return func(v *TrustValidator) {
		v.revocation = checker
	}
}

// WithClock sets the time source used for validity periods
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *TrustValidator) {
		v.now = now
	}
}

// NewTrustValidator creates a validator over the pinned thumbprints.
// Revocation checking, when a TrustContext asks for it, defaults to strict OCSP
// with CRL fallback.
func NewTrustValidator(thumbprints *ThumbprintSet, opts ...ValidatorOption) *TrustValidator {
	if thumbprints == nil {
		thumbprints = NewThumbprintSet(nil, nil, nil)
	}
	ocspConfig := DefaultOCSPConfig()
	ocspConfig.StrictMode = true

	v := &TrustValidator{
		thumbprints:   thumbprints,
		intermediates: x509.NewCertPool(),
		revocation:    NewOCSPRevocationChecker(ocspConfig),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Thumbprints returns the pinned thumbprint set
func (v *TrustValidator) Thumbprints() *ThumbprintSet {
	return v.thumbprints
}

// Validate validates a single certificate. See ValidateChain.
func (v *TrustValidator) Validate(ctx context.Context, cert *x509.Certificate, tc TrustContext) error {
	return v.ValidateChain(ctx, []*x509.Certificate{cert}, tc)
}

// ValidateChain validates presented[0] using presented[1:] as additional
// intermediates. The checks run in order and the first failure is returned:
//
//  1. presence
//  2. chain building
//  3. issuer match against the thumbprints selected by tc.ExpectedIssuer,
//     skipped when the certificate is itself a pinned root or intermediate CA.
//     Any verified chain may supply the issuer; the first that does is kept.
//  4. revocation of the end certificate against the kept chain, if requested
//  5. byte equality with tc.ExpectedCertificate, if set
//  6. tc.Check, if set
func (v *TrustValidator) ValidateChain(ctx context.Context, presented []*x509.Certificate, tc TrustContext) error {
	if len(presented) == 0 || presented[0] == nil {
		return &TrustError{Kind: ErrNoCertificate}
	}
	cert := presented[0]
	subject := SimpleName(cert)

	chains, err := v.buildChains(cert, presented[1:])
	if err != nil {
		return &TrustError{Kind: ErrChainBuildFailed, Subject: subject, Err: err}
	}

	chain := chains[0]
	if !v.isInfrastructure(cert) {
		var terr *TrustError
		if chain, terr = v.selectChain(chains, tc.ExpectedIssuer); terr != nil {
			terr.Subject = subject
			return terr
		}
	}

	if tc.RevocationCheck {
		if err := v.checkRevocation(ctx, chain); err != nil {
			return &TrustError{Kind: ErrChainBuildFailed, Subject: subject, Err: err}
		}
	}

	if tc.ExpectedCertificate != nil && !SameCertificate(tc.ExpectedCertificate, cert) {
		return &TrustError{
			Kind:    ErrCertificateMismatch,
			Subject: subject,
			Err:     fmt.Errorf("expected %s, got %s", Thumbprint(tc.ExpectedCertificate), Thumbprint(cert)),
		}
	}

	if tc.Check != nil {
		if err := tc.Check(ctx, cert, chain); err != nil {
			return &TrustError{Kind: ErrCheckFailed, Subject: subject, Err: err}
		}
	}

	return nil
}

// PeerVerifier binds tc to the validator for use as a TLS peer check. The
// context is that of the handshake being verified.
func (v *TrustValidator) PeerVerifier(tc TrustContext) func(ctx context.Context, chain []*x509.Certificate) error {
	return func(ctx context.Context, chain []*x509.Certificate) error {
		return v.ValidateChain(ctx, chain, tc)
	}
}

// isInfrastructure reports whether cert is itself a pinned root or intermediate
// CA. Those certificates are their own issuer of record, so the issuer check
// does not apply to them.
func (v *TrustValidator) isInfrastructure(cert *x509.Certificate) bool {
	tp := Thumbprint(cert)
	return v.thumbprints.IsRoot(tp) || v.thumbprints.IsIntermediate(tp)
}

// selectChain returns the first chain whose issuer of the end certificate is
// pinned for expected.
func (v *TrustValidator) selectChain(chains [][]*x509.Certificate, expected Issuer) ([]*x509.Certificate, *TrustError) {
	set, constrained := v.thumbprints.Issuers(expected)
	if !constrained {
		return chains[0], nil
	}
	if len(set) == 0 {
		return nil, &TrustError{Kind: ErrNoThumbprintsConfigured, Err: fmt.Errorf("expected issuer %s", expected)}
	}

	for _, chain := range chains {
		if v.thumbprints.IsIssuer(expected, Thumbprint(issuerOf(chain))) {
			return chain, nil
		}
	}
	issuer := issuerOf(chains[0])
	return nil, &TrustError{
		Kind: ErrWrongIssuer,
		Err:  fmt.Errorf("issuer %q (%s) is not a pinned %s", SimpleName(issuer), Thumbprint(issuer), expected),
	}
}

func issuerOf(chain []*x509.Certificate) *x509.Certificate {
	if len(chain) > 1 {
		return chain[1]
	}
	return chain[0]
}

func (v *TrustValidator) buildChains(cert *x509.Certificate, presented []*x509.Certificate) ([][]*x509.Certificate, error) {
	intermediates := v.intermediates.Clone()
	for _, c := range presented {
		if c != nil {
			intermediates.AddCert(c)
		}
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	return cert.Verify(opts)
}

func (v *TrustValidator) checkRevocation(ctx context.Context, chain []*x509.Certificate) error {
	if len(chain) < 2 {
		return nil
	}
	if v.revocation == nil {
		return errors.New("revocation check requested but no checker configured")
	}
	if err := v.revocation.CheckRevocation(ctx, chain[0], chain[1]); err != nil {
		return fmt.Errorf("revocation check: %w", err)
	}
	return nil
}
