// Package validation posts documents to a REST schema validation service
package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	// DefaultURL is the public EHF validation service
	DefaultURL = "http://vefa.difi.no/validate-ws/"
	// ContentType is sent with every document
	ContentType = "application/xml; encoding='utf-8'"

	maxResponseSize = 10 << 20
)

// ErrEmptyDocument is returned when there is nothing to validate
var ErrEmptyDocument = errors.New("document is empty")

// StatusError is returned when the service answers with a non-200 status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("validation service returned status %d: %s", e.StatusCode, e.Body)
}

// Result is the service's answer
type Result struct {
	Response *etree.Document
	Raw      []byte
	Elapsed  time.Duration
}

// ClientConfig contains configuration for a Client
type ClientConfig struct {
	// URL of the service, DefaultURL if empty
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client posts documents to the validation service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client with the default configuration
func NewClient() *Client {
	return NewClientWithConfig(ClientConfig{})
}

// NewClientWithConfig creates a client
func NewClientWithConfig(cfg ClientConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.URL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Validate posts document to the service, which detects the document type
// from its CustomizationID and ProfileID.
func (c *Client) Validate(ctx context.Context, document []byte) (*Result, error) {
	return c.post(ctx, c.baseURL, document)
}

// ValidateAs posts document for validation against a named document type
// and version.
func (c *Client) ValidateAs(ctx context.Context, document []byte, documentType, version string) (*Result, error) {
	if documentType == "" || version == "" {
		return nil, errors.New("document type and version are required")
	}
	return c.post(ctx, TypedURL(c.baseURL, documentType, version), document)
}

// TypedURL returns <base>/<version>/<documentType>, with the document type
// query-escaped.
func TypedURL(base, documentType, version string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + version + "/" + url.QueryEscape(documentType)
}

func (c *Client) post(ctx context.Context, target string, document []byte) (*Result, error) {
	if len(bytes.TrimSpace(document)) == 0 {
		return nil, ErrEmptyDocument
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)

	c.logger.Debug("validating document", "url", target, "size", len(document))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(raw)), 256)}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse validation response: %w", err)
	}
	if doc.Root() == nil {
		return nil, errors.New("validation response has no root element")
	}

	return &Result{Response: doc, Raw: raw, Elapsed: time.Since(start)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
