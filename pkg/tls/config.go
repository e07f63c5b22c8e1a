// Package tls builds the server-side TLS configuration for the client
// listener, generating a self-signed certificate on first start if asked.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
)

// ErrNoCertificate is returned when TLS is enabled without a usable
// certificate source.
var ErrNoCertificate = errors.New("tls: enabled but no certificate configured")

// LoadTLSConfig returns the listener configuration, or nil when TLS is
// disabled. With AutoGenerate a missing CertFile/KeyFile pair is created
// first; an expired certificate is rejected.
func LoadTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, ErrNoCertificate
	}

	if !fsutil.FileExists(cfg.CertFile) && !fsutil.FileExists(cfg.KeyFile) {
		if !cfg.AutoGenerate {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoCertificate, cfg.CertFile)
		}
		validFor := cfg.ValidFor
		if validFor <= 0 {
			validFor = DefaultConfig().ValidFor
		}
		if err := GenerateAndSave(cfg.Hosts, validFor, cfg.CertFile, cfg.KeyFile); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	if err := checkValidity(cert.Certificate[0], time.Now()); err != nil {
		return nil, err
	}

	minVersion := cfg.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		CipherSuites: SecureCipherSuites(),
	}

	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	} else if cfg.RequireClientCert {
		return nil, errors.New("tls: require_client_cert needs ca_file")
	}

	return tlsConfig, nil
}

func checkValidity(der []byte, now time.Time) error {
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("tls: certificate is not valid until %s", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("tls: certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// LoadCAPool loads a CA certificate pool from a file
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", caFile)
	}

	return certPool, nil
}

// GetCertificateInfo returns information about the first certificate in
// certFile
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to parse certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	info := &CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DNSNames:  cert.DNSNames,
	}
	for _, ip := range cert.IPAddresses {
		info.IPs = append(info.IPs, ip.String())
	}
	return info, nil
}
