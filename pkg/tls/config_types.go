package tls

import (
	"crypto/tls"
	"time"
)

// Config describes TLS for the client listener
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile enables client certificate verification against this bundle.
	CAFile string `yaml:"ca_file"`
	// RequireClientCert rejects clients without a certificate signed by
	// CAFile. Without it a presented certificate is verified but optional.
	RequireClientCert bool `yaml:"require_client_cert"`

	// AutoGenerate creates a self-signed pair when CertFile and KeyFile do
	// not exist yet, and writes it there so clients can pin it.
	AutoGenerate bool          `yaml:"auto_generate"`
	Hosts        []string      `yaml:"hosts"`
	ValidFor     time.Duration `yaml:"valid_for"`

	MinVersion uint16 `yaml:"-"`
}

// DefaultConfig returns TLS disabled with self-signed generation on
func DefaultConfig() Config {
	return Config{
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		ValidFor:     365 * 24 * time.Hour,
		MinVersion:   tls.VersionTLS12,
	}
}

// CertificateInfo holds certificate metadata
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DNSNames  []string
	IPs       []string
}

// ExpiresIn returns the time until certificate expiration
func (ci *CertificateInfo) ExpiresIn() time.Duration {
	return time.Until(ci.NotAfter)
}

// SecureCipherSuites lists the TLS 1.2 suites offered. TLS 1.3 suites are
// not configurable in crypto/tls.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	}
}
