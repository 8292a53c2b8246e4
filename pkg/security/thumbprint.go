package security

import (
	"crypto/sha1" //nolint:gosec // thumbprints are identifiers, not signatures
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
)

// Issuer selects which intermediate CA a certificate is expected to be issued by
type Issuer int

const (
	// IssuerNone skips the issuer check; a valid chain is sufficient
	IssuerNone Issuer = iota
	// IssuerAccessPointCA expects the access point intermediate CA
	IssuerAccessPointCA
	// IssuerDirectoryCA expects the SMP (directory) intermediate CA
	IssuerDirectoryCA
)

func (i Issuer) String() string {
	switch i {
	case IssuerNone:
		return "none"
	case IssuerAccessPointCA:
		return "access-point-ca"
	case IssuerDirectoryCA:
		return "directory-ca"
	default:
		return fmt.Sprintf("issuer(%d)", int(i))
	}
}

// ParseIssuer parses the configuration form of an Issuer
func ParseIssuer(s string) (Issuer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return IssuerNone, nil
	case "access-point-ca", "accesspointca", "ap":
		return IssuerAccessPointCA, nil
	case "directory-ca", "directoryca", "smp-ca", "smpca", "smp":
		return IssuerDirectoryCA, nil
	default:
		return IssuerNone, fmt.Errorf("unknown issuer %q", s)
	}
}

// Thumbprint returns the SHA-1 fingerprint of the DER encoding as upper-case hex.
// This is the form published in PEPPOL trust configuration.
func Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ThumbprintSet holds the pinned thumbprints of the network root CA and the
// two intermediate CAs. It is immutable once built and safe for concurrent use.
//
// Comparison is ASCII case-insensitive. Separators are not normalized, so
// configured values must already be plain hex.
type ThumbprintSet struct {
	root          map[string]struct{}
	accessPointCA map[string]struct{}
	directoryCA   map[string]struct{}
}

// NewThumbprintSet builds a set from configured thumbprint lists.
// Empty entries are ignored.
func NewThumbprintSet(root, accessPointCA, directoryCA []string) *ThumbprintSet {
	return &ThumbprintSet{
		root:          toSet(root),
		accessPointCA: toSet(accessPointCA),
		directoryCA:   toSet(directoryCA),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[asciiUpper(v)] = struct{}{}
	}
	return set
}

// IsRoot reports whether thumbprint is a pinned root CA
func (s *ThumbprintSet) IsRoot(thumbprint string) bool {
	return s.contains(s.root, thumbprint)
}

// IsIntermediate reports whether thumbprint is a pinned intermediate CA of either branch
func (s *ThumbprintSet) IsIntermediate(thumbprint string) bool {
	return s.contains(s.accessPointCA, thumbprint) || s.contains(s.directoryCA, thumbprint)
}

// Issuers returns the thumbprints selected by issuer and whether the selection
// constrains the issuer at all. IssuerNone returns (nil, false); an unknown
// Issuer returns (nil, true) so that it fails closed.
func (s *ThumbprintSet) Issuers(issuer Issuer) (map[string]struct{}, bool) {
	if issuer == IssuerNone {
		return nil, false
	}
	if s == nil {
		return nil, true
	}
	switch issuer {
	case IssuerAccessPointCA:
		return s.accessPointCA, true
	case IssuerDirectoryCA:
		return s.directoryCA, true
	default:
		return nil, true
	}
}

// IsIssuer reports whether thumbprint is in the set selected by issuer.
// An empty selection never matches.
func (s *ThumbprintSet) IsIssuer(issuer Issuer, thumbprint string) bool {
	set, _ := s.Issuers(issuer)
	return s.contains(set, thumbprint)
}

// Len returns the number of pinned thumbprints for root, access point CA and directory CA
func (s *ThumbprintSet) Len() (root, accessPointCA, directoryCA int) {
	if s == nil {
		return 0, 0, 0
	}
	return len(s.root), len(s.accessPointCA), len(s.directoryCA)
}

func (s *ThumbprintSet) contains(set map[string]struct{}, thumbprint string) bool {
	if s == nil || len(set) == 0 || thumbprint == "" {
		return false
	}
	_, ok := set[asciiUpper(thumbprint)]
	return ok
}

// asciiUpper folds only a-z so that comparison stays ASCII case-insensitive
func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
