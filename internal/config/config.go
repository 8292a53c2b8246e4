// Package config handles configuration loading for the EHF client.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), so that key paths and
// thumbprints can be injected at runtime.
//
// # Configuration Sections
//
//   - client: the client certificate and key presented to access points
//   - service: a known access point used instead of a directory lookup
//   - directory: how the SMP is located (sml, bdxl or static)
//   - trust: pinned CA thumbprints, CA bundle, revocation and policy
//   - dispatch: token, channel and retry settings
//   - validation: the REST validation service
//   - logging: level and format
//
// # Example Configuration
//
//	client:
//	  certFile: /etc/ehf/client.crt
//	  keyFile: /etc/ehf/client.key
//
//	directory:
//	  mode: sml
//	  smlDomain: edelivery.tech.ec.europa.eu
//
//	trust:
//	  caFile: /etc/ehf/peppol-ca.pem
//	  rootThumbprints: [${PEPPOL_ROOT_THUMBPRINT}]
//	  accessPointCAThumbprints: [${PEPPOL_AP_THUMBPRINT}]
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/validation"
)

// Directory modes
const (
	DirectoryModeSML    = "sml"
	DirectoryModeBDXL   = "bdxl"
	DirectoryModeStatic = "static"
)

// Config is the root configuration structure. It is not modified after Load.
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Service    ServiceConfig    `yaml:"service"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Trust      TrustConfig      `yaml:"trust"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ClientConfig holds the client certificate and key PEM files
type ClientConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// ServiceConfig names a known access point
type ServiceConfig struct {
	Address  string `yaml:"address"`
	CertFile string `yaml:"certFile"`
}

// DirectoryConfig holds SML/SMP settings
type DirectoryConfig struct {
	// Mode is "sml", "bdxl" or "static"
	Mode      string        `yaml:"mode"`
	SMLDomain string        `yaml:"smlDomain"`
	BDXL      BDXLConfig    `yaml:"bdxl"`
	SMPURL    string        `yaml:"smpUrl"`
	Timeout   time.Duration `yaml:"timeout"`
	// TolerateMetadataErrors downgrades service group failures to warnings
	TolerateMetadataErrors bool `yaml:"tolerateMetadataErrors"`
}

// BDXLConfig holds BDXL lookup settings
type BDXLConfig struct {
	Domain    string `yaml:"domain"`
	DNSServer string `yaml:"dnsServer"`
}

// TrustConfig holds the pinned network PKI
type TrustConfig struct {
	RootThumbprints          []string `yaml:"rootThumbprints"`
	AccessPointCAThumbprints []string `yaml:"accessPointCAThumbprints"`
	DirectoryCAThumbprints   []string `yaml:"directoryCAThumbprints"`
	// CAFile holds the root and intermediate CA certificates used to build chains
	CAFile          string        `yaml:"caFile"`
	RevocationCheck bool          `yaml:"revocationCheck"`
	OCSPTimeout     time.Duration `yaml:"ocspTimeout"`
	Policy          PolicyConfig  `yaml:"policy"`
}

// PolicyConfig points at an optional Rego policy
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Query string `yaml:"query"`
}

// DispatchConfig holds per-send settings
type DispatchConfig struct {
	AssuranceLevel int           `yaml:"assuranceLevel"`
	Channel        string        `yaml:"channel"`
	TokenLifetime  time.Duration `yaml:"tokenLifetime"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheChannels  bool          `yaml:"cacheChannels"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig controls retries of failed directory lookups
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// ValidationConfig holds the validation service URL
type ValidationConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with only defaults applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Directory.Mode == "" {
		c.Directory.Mode = DirectoryModeSML
	}
	if c.Directory.SMLDomain == "" {
		c.Directory.SMLDomain = peppol.DefaultSMLDomain
	}
	if c.Directory.Timeout == 0 {
		c.Directory.Timeout = 30 * time.Second
	}
	if c.Trust.OCSPTimeout == 0 {
		c.Trust.OCSPTimeout = 10 * time.Second
	}
	if c.Dispatch.AssuranceLevel == 0 {
		c.Dispatch.AssuranceLevel = peppol.AssuranceLevel
	}
	if c.Dispatch.TokenLifetime == 0 {
		c.Dispatch.TokenLifetime = 5 * time.Minute
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 60 * time.Second
	}
	if c.Dispatch.Retry.MaxAttempts == 0 {
		c.Dispatch.Retry.MaxAttempts = 1
	}
	if c.Dispatch.Retry.InitialInterval == 0 {
		c.Dispatch.Retry.InitialInterval = time.Second
	}
	if c.Dispatch.Retry.Multiplier == 0 {
		c.Dispatch.Retry.Multiplier = 2
	}
	if c.Dispatch.Retry.MaxInterval == 0 {
		c.Dispatch.Retry.MaxInterval = 30 * time.Second
	}
	if c.Validation.URL == "" {
		c.Validation.URL = validation.DefaultURL
	}
	if c.Validation.Timeout == 0 {
		c.Validation.Timeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Directory.Mode {
	case DirectoryModeSML, DirectoryModeBDXL, DirectoryModeStatic:
		// Valid modes
	default:
		return fmt.Errorf("directory.mode must be 'sml', 'bdxl', or 'static', got '%s'", c.Directory.Mode)
	}
	if c.Directory.Mode == DirectoryModeBDXL && c.Directory.BDXL.Domain == "" {
		return fmt.Errorf("directory.bdxl.domain is required when mode is 'bdxl'")
	}
	if c.Directory.Mode == DirectoryModeStatic && c.Directory.SMPURL == "" {
		return fmt.Errorf("directory.smpUrl is required when mode is 'static'")
	}

	if (c.Client.CertFile == "") != (c.Client.KeyFile == "") {
		return fmt.Errorf("client.certFile and client.keyFile must be set together")
	}
	if (c.Service.Address == "") != (c.Service.CertFile == "") {
		return fmt.Errorf("service.address and service.certFile must be set together")
	}

	if c.Dispatch.AssuranceLevel < 1 || c.Dispatch.AssuranceLevel > 4 {
		return fmt.Errorf("dispatch.assuranceLevel must be between 1 and 4, got %d", c.Dispatch.AssuranceLevel)
	}
	if c.Dispatch.Retry.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.retry.maxAttempts must be at least 1")
	}
	if c.Dispatch.Retry.Multiplier < 1 {
		return fmt.Errorf("dispatch.retry.multiplier must be at least 1")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}
