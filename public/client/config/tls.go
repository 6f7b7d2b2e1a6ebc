package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrTLSUnknownMode        = errors.New("unknown tls mode")
	ErrTLSCertWithoutKey     = errors.New("client cert specified without key")
	ErrTLSKeyWithoutCert     = errors.New("client key specified without cert")
	ErrTLSCACertNotReadable  = errors.New("ca cert not readable")
	ErrTLSUnknownVersion     = errors.New("unknown tls version")
)

// TLSMode controls when the connection is upgraded to TLS.
type TLSMode string

const (
	// TLSModeAuto uses TLS when any TLS material is configured.
	TLSModeAuto TLSMode = "auto"
	// TLSModePrefer attempts TLS and falls back to plain TCP if the
	// handshake fails.
	TLSModePrefer TLSMode = "prefer"
	// TLSModeRequire fails the connection attempt unless TLS is established.
	TLSModeRequire TLSMode = "require"
	// TLSModeImplicit is TLS from the first byte, equivalent to require.
	TLSModeImplicit TLSMode = "implicit"
	// TLSModeDisable never uses TLS.
	TLSModeDisable TLSMode = "disable"
)

type TLSConfig struct {
	Mode TLSMode `yaml:"mode"`

	CACertPEMPath string `yaml:"ca_cert_pem_path"`
	CertPEMPath   string `yaml:"cert_pem_path"`
	KeyPEMPath    string `yaml:"key_pem_path"`

	ServerName string `yaml:"server_name"`

	// InsecureSkipVerify disables server certificate verification. Test use
	// only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// SkipRevocationCheck is accepted for config compatibility. crypto/tls
	// performs no online revocation checking.
	SkipRevocationCheck bool `yaml:"skip_revocation_check"`

	MinVersion string `yaml:"min_version"`
	MaxVersion string `yaml:"max_version"`

	Config *tls.Config `yaml:"-"`
}

var tlsVersions = map[string]uint16{
	"":    0,
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

func (c *TLSConfig) Parse() error {
	if c.Config != nil {
		return nil
	}

	if err := c.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if c.Mode == TLSModeDisable {
		return nil
	}

	conf := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tlsVersions[c.MinVersion],
		MaxVersion:         tlsVersions[c.MaxVersion],
	}

	if c.CACertPEMPath != "" {
		caCert, err := os.ReadFile(c.CACertPEMPath)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTLSCACertNotReadable, err)
		}
		caPool := x509.NewCertPool()
		caPool.AppendCertsFromPEM(caCert)
		conf.RootCAs = caPool
	}

	if c.CertPEMPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPEMPath, c.KeyPEMPath)
		if err != nil {
			return fmt.Errorf("load x509 key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	c.Config = conf
	return nil
}

// Enabled reports whether a connection attempt should try TLS at all.
func (c *TLSConfig) Enabled() bool {
	switch c.Mode {
	case TLSModeDisable:
		return false
	case TLSModePrefer, TLSModeRequire, TLSModeImplicit:
		return true
	default:
		return c.CACertPEMPath != "" || c.CertPEMPath != "" || c.ServerName != "" || c.InsecureSkipVerify
	}
}

// Required reports whether plain TCP fallback is forbidden.
func (c *TLSConfig) Required() bool {
	return c.Mode == TLSModeRequire || c.Mode == TLSModeImplicit
}

func (c *TLSConfig) validate() error {
	switch c.Mode {
	case "", TLSModeAuto, TLSModePrefer, TLSModeRequire, TLSModeImplicit, TLSModeDisable:
	default:
		return fmt.Errorf("%w: %q", ErrTLSUnknownMode, c.Mode)
	}

	if c.CertPEMPath != "" && c.KeyPEMPath == "" {
		return ErrTLSCertWithoutKey
	}
	if c.KeyPEMPath != "" && c.CertPEMPath == "" {
		return ErrTLSKeyWithoutCert
	}

	if _, ok := tlsVersions[c.MinVersion]; !ok {
		return fmt.Errorf("%w: %q", ErrTLSUnknownVersion, c.MinVersion)
	}
	if _, ok := tlsVersions[c.MaxVersion]; !ok {
		return fmt.Errorf("%w: %q", ErrTLSUnknownVersion, c.MaxVersion)
	}

	return nil
}
