package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
)

// SMP errors
var (
	// ErrParticipantNotFound is returned when the participant is not registered in the SMP
	ErrParticipantNotFound = errors.New("participant not found in SMP")
	// ErrDocumentTypeNotFound is returned when the participant does not accept the document type
	ErrDocumentTypeNotFound = errors.New("document type not found")
	// ErrProcessNotFound is returned when no endpoint serves the requested process
	ErrProcessNotFound = errors.New("process not found")
	// ErrNoEndpoint is returned when the process has no usable endpoint
	ErrNoEndpoint = errors.New("no matching endpoint")
)

// Transport profile constants
const (
	// TransportStart is the PEPPOL START (SOAP/WS-Security) transport profile
	TransportStart = "busdox-transport-start"
	// TransportAS2 is the PEPPOL AS2 transport profile
	TransportAS2 = "busdox-transport-as2-ver1p0"
	// TransportPeppolAS4 is the PEPPOL AS4 transport profile
	TransportPeppolAS4 = "peppol-transport-as4-v2_0"
)

const defaultUserAgent = "go-ehf-smp-client/1.0"

// SMPClientConfig contains configuration for the SMP client
type SMPClientConfig struct {
	// HTTPClient is the HTTP client to use (optional)
	// If nil, a default client with Timeout is used
	HTTPClient *http.Client

	// Timeout for the default HTTP client, 30s if zero
	Timeout time.Duration

	// UserAgent is the User-Agent header to send
	UserAgent string

	// AcceptHeader specifies the Accept header
	// Defaults to "application/xml"
	AcceptHeader string
}

// SMPClient queries a Service Metadata Publisher over its REST binding
type SMPClient struct {
	config     SMPClientConfig
	httpClient *http.Client
}

// NewSMPClient creates a new SMP client with default configuration
func NewSMPClient() *SMPClient {
	return NewSMPClientWithConfig(SMPClientConfig{})
}

// NewSMPClientWithConfig creates a new SMP client with custom configuration
func NewSMPClientWithConfig(config SMPClientConfig) *SMPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.AcceptHeader == "" {
		config.AcceptHeader = "application/xml"
	}
	return &SMPClient{
		config:     config,
		httpClient: client,
	}
}

// ServiceGroup lists the document types a participant accepts
type ServiceGroup struct {
	ParticipantID     string
	ServiceReferences []string
}

// ServiceMetadata is the SMP registration of one document type
type ServiceMetadata struct {
	ParticipantID string
	DocumentType  string
	Processes     []ProcessMetadata
}

// ProcessMetadata represents a process within ServiceMetadata
type ProcessMetadata struct {
	ProcessID string
	Endpoints []Endpoint
}

// Endpoint represents a service endpoint
type Endpoint struct {
	// TransportProfile is the transport protocol (e.g., "busdox-transport-start")
	TransportProfile string
	// EndpointURL is the address of the access point
	EndpointURL string
	// Certificate is the access point certificate in Base64 encoding
	Certificate string
	// ServiceActivationDate is when the service becomes active
	ServiceActivationDate *time.Time
	// ServiceExpirationDate is when the service expires
	ServiceExpirationDate *time.Time
	// TechnicalContactURL is the URL for technical contact
	TechnicalContactURL string
	// Description is a human-readable description
	Description string
}

// ServiceGroupURL returns the address of the participant's service group
func ServiceGroupURL(smpURL string, participant peppol.ParticipantIdentifier) string {
	base := strings.TrimRight(smpURL, "/")
	return fmt.Sprintf("%s/%s", base, url.PathEscape(participant.String()))
}

// ServiceMetadataURL returns the address of the participant's metadata for one document type
func ServiceMetadataURL(smpURL string, participant peppol.ParticipantIdentifier, documentTypeID string) string {
	docID := peppol.DocumentTypeScheme + "::" + documentTypeID
	return fmt.Sprintf("%s/services/%s", ServiceGroupURL(smpURL, participant), url.PathEscape(docID))
}

// Probe checks that the participant's service group exists without fetching it
func (c *SMPClient) Probe(ctx context.Context, smpURL string, participant peppol.ParticipantIdentifier) error {
	req, err := c.newRequest(ctx, http.MethodHead, ServiceGroupURL(smpURL, participant))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SMP request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, ErrParticipantNotFound)
}

// GetServiceGroup retrieves the ServiceGroup for a participant
func (c *SMPClient) GetServiceGroup(ctx context.Context, smpURL string, participant peppol.ParticipantIdentifier) (*ServiceGroup, error) {
	body, err := c.get(ctx, ServiceGroupURL(smpURL, participant), ErrParticipantNotFound)
	if err != nil {
		return nil, err
	}
	return parseServiceGroup(body, participant.String())
}

// GetServiceMetadata retrieves ServiceMetadata for a participant and document type
func (c *SMPClient) GetServiceMetadata(ctx context.Context, smpURL string, participant peppol.ParticipantIdentifier, documentTypeID string) (*ServiceMetadata, error) {
	body, err := c.get(ctx, ServiceMetadataURL(smpURL, participant, documentTypeID), ErrDocumentTypeNotFound)
	if err != nil {
		return nil, err
	}
	return parseServiceMetadata(body)
}

// GetEndpoint retrieves the first active endpoint for a participant, document
// type and process. An empty processID matches any process and an empty
// transportProfile matches any profile.
func (c *SMPClient) GetEndpoint(ctx context.Context, smpURL string, participant peppol.ParticipantIdentifier, documentTypeID, processID, transportProfile string) (*Endpoint, error) {
	metadata, err := c.GetServiceMetadata(ctx, smpURL, participant, documentTypeID)
	if err != nil {
		return nil, err
	}
	return metadata.Endpoint(processID, transportProfile)
}

// Endpoint selects the first active endpoint for processID and transportProfile
func (m *ServiceMetadata) Endpoint(processID, transportProfile string) (*Endpoint, error) {
	var candidates []Endpoint
	for _, process := range m.Processes {
		if processID == "" || process.ProcessID == processID {
			candidates = append(candidates, process.Endpoints...)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, processID)
	}

	if transportProfile != "" {
		candidates = FilterEndpointsByTransport(candidates, transportProfile)
	}
	active := GetActiveEndpoints(candidates)
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: process %q, transport %q", ErrNoEndpoint, processID, transportProfile)
	}
	return &active[0], nil
}

func (c *SMPClient) newRequest(ctx context.Context, method, reqURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", c.config.AcceptHeader)
	req.Header.Set("User-Agent", c.config.UserAgent)
	return req, nil
}

func (c *SMPClient) get(ctx context.Context, reqURL string, notFound error) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SMP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, notFound); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func checkStatus(resp *http.Response, notFound error) error {
	if resp.StatusCode == http.StatusNotFound {
		return notFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("SMP returned status %d", resp.StatusCode)
	}
	return nil
}

// SMP 1.0 XML structures
type smpIdentifier struct {
	Value  string `xml:",chardata"`
	Scheme string `xml:"scheme,attr"`
}

type smp10ServiceGroup struct {
	XMLName                            xml.Name      `xml:"ServiceGroup"`
	ParticipantIdentifier              smpIdentifier `xml:"ParticipantIdentifier"`
	ServiceMetadataReferenceCollection struct {
		ServiceMetadataReferences []struct {
			Href string `xml:"href,attr"`
		} `xml:"ServiceMetadataReference"`
	} `xml:"ServiceMetadataReferenceCollection"`
}

type smp10Endpoint struct {
	TransportProfile  string `xml:"transportProfile,attr"`
	EndpointURI       string `xml:"EndpointURI"`
	EndpointReference struct {
		Address string `xml:"Address"`
	} `xml:"EndpointReference"`
	Certificate           string `xml:"Certificate"`
	ServiceActivationDate string `xml:"ServiceActivationDate"`
	ServiceExpirationDate string `xml:"ServiceExpirationDate"`
	TechnicalContactURL   string `xml:"TechnicalContactUrl"`
	ServiceDescription    string `xml:"ServiceDescription"`
}

type smp10SignedServiceMetadata struct {
	XMLName         xml.Name `xml:"SignedServiceMetadata"`
	ServiceMetadata struct {
		ServiceInformation struct {
			ParticipantIdentifier smpIdentifier `xml:"ParticipantIdentifier"`
			DocumentIdentifier    smpIdentifier `xml:"DocumentIdentifier"`
			ProcessList           struct {
				Processes []struct {
					ProcessIdentifier   smpIdentifier `xml:"ProcessIdentifier"`
					ServiceEndpointList struct {
						Endpoints []smp10Endpoint `xml:"Endpoint"`
					} `xml:"ServiceEndpointList"`
				} `xml:"Process"`
			} `xml:"ProcessList"`
		} `xml:"ServiceInformation"`
	} `xml:"ServiceMetadata"`
}

func parseServiceGroup(data []byte, participantID string) (*ServiceGroup, error) {
	var sg smp10ServiceGroup
	if err := xml.Unmarshal(data, &sg); err != nil {
		return nil, fmt.Errorf("failed to parse ServiceGroup: %w", err)
	}

	result := &ServiceGroup{
		ParticipantID: participantID,
	}
	if v := strings.TrimSpace(sg.ParticipantIdentifier.Value); v != "" {
		result.ParticipantID = sg.ParticipantIdentifier.Scheme + "::" + v
	}

	for _, ref := range sg.ServiceMetadataReferenceCollection.ServiceMetadataReferences {
		result.ServiceReferences = append(result.ServiceReferences, ref.Href)
	}

	return result, nil
}

func parseServiceMetadata(data []byte) (*ServiceMetadata, error) {
	var ssm smp10SignedServiceMetadata
	if err := xml.Unmarshal(data, &ssm); err != nil {
		return nil, fmt.Errorf("failed to parse ServiceMetadata: %w", err)
	}

	si := ssm.ServiceMetadata.ServiceInformation
	result := &ServiceMetadata{
		ParticipantID: strings.TrimSpace(si.ParticipantIdentifier.Value),
		DocumentType:  strings.TrimSpace(si.DocumentIdentifier.Value),
	}

	for _, p := range si.ProcessList.Processes {
		pm := ProcessMetadata{
			ProcessID: strings.TrimSpace(p.ProcessIdentifier.Value),
		}
		for _, ep := range p.ServiceEndpointList.Endpoints {
			address := strings.TrimSpace(ep.EndpointURI)
			if address == "" {
				// START endpoints publish a WS-Addressing reference
				address = strings.TrimSpace(ep.EndpointReference.Address)
			}
			endpoint := Endpoint{
				TransportProfile:      ep.TransportProfile,
				EndpointURL:           address,
				Certificate:           strings.TrimSpace(ep.Certificate),
				TechnicalContactURL:   ep.TechnicalContactURL,
				Description:           ep.ServiceDescription,
				ServiceActivationDate: parseDate(ep.ServiceActivationDate),
				ServiceExpirationDate: parseDate(ep.ServiceExpirationDate),
			}
			pm.Endpoints = append(pm.Endpoints, endpoint)
		}
		result.Processes = append(result.Processes, pm)
	}

	return result, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// FilterEndpointsByTransport filters endpoints by transport profile.
func FilterEndpointsByTransport(endpoints []Endpoint, transportProfile string) []Endpoint {
	var result []Endpoint
	for _, ep := range endpoints {
		if ep.TransportProfile == transportProfile {
			result = append(result, ep)
		}
	}
	return result
}

// GetActiveEndpoints filters endpoints to only include currently active ones.
func GetActiveEndpoints(endpoints []Endpoint) []Endpoint {
	now := time.Now()
	var result []Endpoint
	for _, ep := range endpoints {
		if ep.ServiceActivationDate != nil && ep.ServiceActivationDate.After(now) {
			continue
		}
		if ep.ServiceExpirationDate != nil && ep.ServiceExpirationDate.Before(now) {
			continue
		}
		result = append(result, ep)
	}
	return result
}
