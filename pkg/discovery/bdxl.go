package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
)

// Common errors
var (
	// ErrNoRecordsFound is returned when no U-NAPTR records are found for the party
	ErrNoRecordsFound = errors.New("no BDXL records found for party identifier")
	// ErrInvalidPartyID is returned when the party identifier is empty
	ErrInvalidPartyID = errors.New("invalid party identifier")
	// ErrServiceNotFound is returned when no matching service is found
	ErrServiceNotFound = errors.New("no matching service found in BDXL records")
	// ErrInvalidNAPTRRecord is returned when a NAPTR record has invalid format
	ErrInvalidNAPTRRecord = errors.New("invalid NAPTR record format")
)

// ServiceType represents the type of metadata service
type ServiceType string

const (
	// ServiceTypeSMP1 is the service type for OASIS SMP 1.0 (Meta:SMP)
	ServiceTypeSMP1 ServiceType = "Meta:SMP"
	// ServiceTypeSMP2 is the service type for OASIS SMP 2.0 (oasis-bdxr-smp-2)
	ServiceTypeSMP2 ServiceType = "oasis-bdxr-smp-2"
)

// BDXLLocatorConfig contains configuration for the BDXL locator
type BDXLLocatorConfig struct {
	// Domain is the base domain of the BDXL zone
	// Example: "edelivery.tech.ec.europa.eu"
	Domain string

	// PreferredService specifies the preferred SMP service type
	// Defaults to ServiceTypeSMP1 if not specified
	PreferredService ServiceType

	// DNSServer is the DNS server to use for lookups (optional)
	// Format: "ip:port" (e.g., "8.8.8.8:53")
	// If empty, the first resolver in /etc/resolv.conf is used
	DNSServer string
}

// BDXLLocator finds the SMP with a DNS U-NAPTR lookup. The query name is
// <base32(sha256(value))>.<scheme>.<domain> with padding removed.
type BDXLLocator struct {
	config    BDXLLocatorConfig
	dnsClient *dns.Client
}

// NewBDXLLocator creates a BDXL locator for the given zone
func NewBDXLLocator(domain string) *BDXLLocator {
	return NewBDXLLocatorWithConfig(BDXLLocatorConfig{Domain: domain})
}

// NewBDXLLocatorWithConfig creates a BDXL locator with custom configuration
func NewBDXLLocatorWithConfig(config BDXLLocatorConfig) *BDXLLocator {
	if config.PreferredService == "" {
		config.PreferredService = ServiceTypeSMP1
	}
	return &BDXLLocator{
		config:    config,
		dnsClient: new(dns.Client),
	}
}

// LocateSMP returns the SMP URL published for participant
func (l *BDXLLocator) LocateSMP(ctx context.Context, participant peppol.ParticipantIdentifier) (string, error) {
	queryDomain, err := l.QueryDomain(participant)
	if err != nil {
		return "", err
	}
	return l.lookupNAPTR(ctx, queryDomain)
}

// QueryDomain returns the DNS name queried for participant
func (l *BDXLLocator) QueryDomain(participant peppol.ParticipantIdentifier) (string, error) {
	hashedID, err := hashPartyID(participant.Value)
	if err != nil {
		return "", err
	}
	scheme := participant.Scheme
	if scheme == "" {
		scheme = peppol.ParticipantScheme
	}
	return fmt.Sprintf("%s.%s.%s", hashedID, strings.ToLower(scheme), strings.TrimSuffix(l.config.Domain, ".")), nil
}

// hashPartyID returns the BASE32-encoded SHA256 hash of the lower-cased
// identifier with padding removed.
func hashPartyID(partyID string) (string, error) {
	if partyID == "" {
		return "", ErrInvalidPartyID
	}
	hash := sha256.Sum256([]byte(strings.ToLower(partyID)))
	encoded := base32.StdEncoding.EncodeToString(hash[:])
	return strings.TrimRight(encoded, "="), nil
}

func (l *BDXLLocator) lookupNAPTR(ctx context.Context, queryDomain string) (string, error) {
	dnsServer := l.config.DNSServer
	if dnsServer == "" {
		config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return "", fmt.Errorf("failed to read DNS config: %w", err)
		}
		if len(config.Servers) == 0 {
			return "", errors.New("no DNS servers configured")
		}
		dnsServer = config.Servers[0] + ":" + config.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(queryDomain), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := l.dnsClient.ExchangeContext(ctx, msg, dnsServer)
	if err != nil {
		return "", fmt.Errorf("DNS lookup failed for %s: %w", queryDomain, err)
	}

	if resp.Rcode == dns.RcodeNameError {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("DNS lookup failed for %s: rcode=%s", queryDomain, dns.RcodeToString[resp.Rcode])
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}

	return l.selectBestRecord(records)
}

// selectBestRecord picks the lowest order/preference U record, preferring the
// configured service type over the other SMP service type.
func (l *BDXLLocator) selectBestRecord(records []*dns.NAPTR) (string, error) {
	var best *dns.NAPTR
	bestPreferred := false
	bestPriority := 0

	preferred := strings.ToLower(string(l.config.PreferredService))

	for _, record := range records {
		if !strings.EqualFold(record.Flags, "U") {
			continue
		}

		service := strings.ToLower(record.Service)
		if service != strings.ToLower(string(ServiceTypeSMP1)) && service != strings.ToLower(string(ServiceTypeSMP2)) {
			continue
		}

		isPreferred := service == preferred
		priority := int(record.Order)*1000 + int(record.Preference)
		switch {
		case best == nil,
			isPreferred && !bestPreferred,
			isPreferred == bestPreferred && priority < bestPriority:
			best, bestPreferred, bestPriority = record, isPreferred, priority
		}
	}

	if best == nil {
		return "", ErrServiceNotFound
	}
	return extractURLFromRegexp(best.Regexp)
}

// extractURLFromRegexp extracts the URL from a NAPTR regexp field of the
// form "!<pattern>!<replacement>!".
func extractURLFromRegexp(regexpField string) (string, error) {
	if regexpField == "" {
		return "", ErrInvalidNAPTRRecord
	}

	parts := strings.Split(regexpField, "!")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: invalid regexp format: %s", ErrInvalidNAPTRRecord, regexpField)
	}

	replacement := parts[2]
	if replacement == "" {
		return "", fmt.Errorf("%w: empty URL in regexp: %s", ErrInvalidNAPTRRecord, regexpField)
	}

	parsedURL, err := url.Parse(replacement)
	if err != nil {
		return "", fmt.Errorf("invalid URL in NAPTR record: %w", err)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return "", fmt.Errorf("invalid URL scheme in NAPTR record: %s", parsedURL.Scheme)
	}

	return replacement, nil
}
