package security

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/cuemby/vigil/pkg/vigilerr"
)

// LoadKeyPair loads a PEM certificate/key pair from explicit file paths,
// the shape the ingest HTTPS listener and replication peer configs use.
// Grounded in original_source/src/tls_utils.rs's load_certs/load_private_key.
func LoadKeyPair(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindCertificateInvalid, "failed to load certificate/key pair", err)
	}

	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, vigilerr.Wrap(vigilerr.KindCertificateInvalid, "failed to parse certificate", err)
		}
		cert.Leaf = leaf
	}

	return &cert, nil
}

// LoadCAPool reads a PEM-encoded CA certificate file into a cert pool for
// use as a replication client's trust root.
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindCertificateInvalid, "failed to read CA certificate", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, vigilerr.New(vigilerr.KindCertificateInvalid, "no certificates found in CA file")
	}
	return pool, nil
}

// IsSelfSigned reports whether cert's subject equals its issuer.
func IsSelfSigned(cert *x509.Certificate) bool {
	return cert.Subject.String() == cert.Issuer.String()
}

// IsExpired reports whether cert is expired as of now.
func IsExpired(cert *x509.Certificate) bool {
	return time.Now().After(cert.NotAfter)
}

// ValidateServerCert enforces the policy the ingest HTTPS listener and
// replication server both require: the leaf must not be self-signed and
// must not be expired. Ported from tls_utils.rs's build_server_config_tls13
// self-signed check, generalized to also reject an expired leaf.
func ValidateServerCert(cert *tls.Certificate) error {
	if cert.Leaf == nil {
		return vigilerr.New(vigilerr.KindCertificateInvalid, "certificate has no parsed leaf")
	}
	if IsSelfSigned(cert.Leaf) {
		return vigilerr.New(vigilerr.KindSelfSignedRejected, "self-signed certificates are not allowed for server TLS")
	}
	if IsExpired(cert.Leaf) {
		return vigilerr.New(vigilerr.KindCertificateExpired, "certificate has expired")
	}
	return nil
}

// ValidateHostname reports an error if expectedHost is not among cert's
// DNS SANs (or its CommonName, for certificates with no SAN set).
func ValidateHostname(cert *x509.Certificate, expectedHost string) error {
	if err := cert.VerifyHostname(expectedHost); err != nil {
		return vigilerr.Wrap(vigilerr.KindHostnameMismatch, "certificate hostname mismatch", err)
	}
	return nil
}

// BuildServerTLSConfig builds a TLS1.3-only server config from a cert/key
// pair on disk, rejecting a self-signed or expired leaf before the
// listener ever starts. Ported from tls_utils.rs's build_server_config_tls13.
func BuildServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := LoadKeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	if err := ValidateServerCert(cert); err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}, nil
}

// BuildClientTLSConfig builds a TLS1.3-only mutual-TLS client config for
// connecting to a replication peer.
func BuildClientTLSConfig(certFile, keyFile, caFile, serverName string) (*tls.Config, error) {
	cert, err := LoadKeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	pool, err := LoadCAPool(caFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}, nil
}
