// Package config loads the DicomShield proxy's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the proxy.
type Config struct {
	Ingress               ListenerConfig        `yaml:"INGRESS"`
	CStoreEndpoint        ListenerConfig        `yaml:"C_STORE_ENDPOINT"`
	Upstream              UpstreamConfig        `yaml:"UPSTREAM"`
	AllowedAET            map[string]string     `yaml:"ALLOWED_AET"`
	PseudonymizationServer PseudonymServerConfig `yaml:"PSEUDONYMIZATION_SERVER"`
	Logging               LoggingConfig         `yaml:"LOGGING"`
}

// ListenerConfig describes an AE listener's title and TCP port.
type ListenerConfig struct {
	AET  string `yaml:"AET"`
	Port int    `yaml:"PORT"`
}

// UpstreamConfig describes the real PACS the proxy shields.
type UpstreamConfig struct {
	AET  string `yaml:"AET"`
	IP   string `yaml:"IP"`
	Port int    `yaml:"PORT"`
}

// PseudonymServerConfig describes the remote FHIR pseudonymization service.
type PseudonymServerConfig struct {
	ClientType  string `yaml:"CLIENT_TYPE"` // "gPAS" or "MII"
	EndpointURL string `yaml:"ENDPOINT_URL"`
	Domain      string `yaml:"DOMAIN"`
	User        string `yaml:"USER,omitempty"`
	Password    string `yaml:"PASSWORD,omitempty"`
}

// LoggingConfig controls the proxy's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks that the configuration has everything the proxy needs to
// boot: both listeners, an upstream PACS, and a pseudonymization client type
// this build knows how to construct.
func (c *Config) Validate() error {
	if c.Ingress.AET == "" || c.Ingress.Port == 0 {
		return fmt.Errorf("config: INGRESS.AET and INGRESS.PORT are required")
	}
	if c.CStoreEndpoint.AET == "" || c.CStoreEndpoint.Port == 0 {
		return fmt.Errorf("config: C_STORE_ENDPOINT.AET and C_STORE_ENDPOINT.PORT are required")
	}
	if c.Upstream.AET == "" || c.Upstream.IP == "" || c.Upstream.Port == 0 {
		return fmt.Errorf("config: UPSTREAM.AET, UPSTREAM.IP and UPSTREAM.PORT are required")
	}
	switch c.PseudonymizationServer.ClientType {
	case "gPAS", "MII":
	default:
		return fmt.Errorf("config: unknown PSEUDONYMIZATION_SERVER.CLIENT_TYPE %q (want gPAS or MII)", c.PseudonymizationServer.ClientType)
	}
	if c.PseudonymizationServer.EndpointURL == "" {
		return fmt.Errorf("config: PSEUDONYMIZATION_SERVER.ENDPOINT_URL is required")
	}
	if c.PseudonymizationServer.Domain == "" {
		return fmt.Errorf("config: PSEUDONYMIZATION_SERVER.DOMAIN is required")
	}
	return nil
}

// ResolveMoveDestination looks up the IP:PORT pair registered under an
// AE title in ALLOWED_AET. Returns false if the AE title is not known.
func (c *Config) ResolveMoveDestination(aeTitle string) (string, bool) {
	addr, ok := c.AllowedAET[aeTitle]
	return addr, ok
}
