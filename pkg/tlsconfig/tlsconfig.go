// Package tlsconfig builds the TLS client configuration used to reach
// upstreams.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config holds TLS options for upstream connections.
type Config struct {
	// Enabled turns on TLS. The other fields are ignored without it.
	Enabled bool `json:"enabled,omitempty"`

	// Insecure disables certificate verification.
	// NOT RECOMMENDED FOR PRODUCTION USE.
	Insecure bool `json:"insecure,omitempty"`

	// CACertFile is a PEM file of trusted CA certificates. System roots are
	// used when empty.
	CACertFile string `json:"ca_cert,omitempty"`

	// ServerName overrides the name verified against the upstream's
	// certificate. By default the host part of each upstream address is used.
	ServerName string `json:"server_name,omitempty"`
}

// ClientConfig returns the *tls.Config for c, or nil when TLS is disabled.
func (c Config) ClientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.Insecure,
		ServerName:         c.ServerName,
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %q: %w", c.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate file %q: no valid certificates found", c.CACertFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
