// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security decides whether a counterpart certificate is trusted by the
PEPPOL network.

Trust is anchored in pinned SHA-1 thumbprints of the network root CA and of
the two intermediate CAs: the access point CA, which issues certificates for
access points, and the directory (SMP) CA, which issues certificates for
service metadata publishers.

# Thumbprints

	tps := security.NewThumbprintSet(
	    []string{"8A2E..."},            // root
	    []string{"A1B2..."},            // access point CA
	    []string{"C3D4..."},            // directory CA
	)

Thumbprints compare case-insensitively. Thumbprint returns the upper-case
form.

# Validation

	v := security.NewTrustValidator(tps,
	    security.WithRoots(roots),
	    security.WithIntermediates(apCA, smpCA),
	)
	err := v.Validate(ctx, peerCert, security.TrustContext{
	    ExpectedIssuer:      security.IssuerAccessPointCA,
	    ExpectedCertificate: fromSMP,
	    RevocationCheck:     true,
	})

Checks run in a fixed order and the first failure is returned as a
*TrustError whose Kind is one of ErrNoCertificate, ErrChainBuildFailed,
ErrWrongIssuer, ErrCertificateMismatch, ErrNoThumbprintsConfigured or
ErrCheckFailed.

A certificate that is itself a pinned root or intermediate CA skips the issuer
check. The pin and the additional check still apply.

When the certificate verifies along several chains, as with a cross-signed
intermediate, the issuer check passes if any of them has a pinned issuer.
Revocation and the additional check then use that chain.

# Revocation

OCSPRevocationChecker queries the OCSP responder named in the certificate and
falls back to the CRL distribution points. Results and CRLs are cached. In
strict mode an undeterminable status is a failure.

# TLS

PeerVerifier adapts a validator and a TrustContext to a check run during the
TLS handshake. It takes the handshake's context, so a channel reused across
dispatches verifies with the context of the send that opened the connection.

# References

  - PEPPOL PKI: https://docs.peppol.eu/edelivery/
  - RFC 6960 (OCSP): https://www.rfc-editor.org/rfc/rfc6960
  - RFC 5280 (X.509 and CRLs): https://www.rfc-editor.org/rfc/rfc5280
*/
package security
