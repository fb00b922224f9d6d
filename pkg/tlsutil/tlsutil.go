// Package tlsutil builds TLS configurations for telesched clients and the
// emulator server from PEM files.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Sentinel Errors returned by the tlsutil package.
var (
	ErrCertLoad = errors.New("certificate load error")
	ErrCASetup  = errors.New("CA setup error")
	ErrCertGen  = errors.New("certificate generation error")
)

// ServerConfig creates a TLS configuration for a server. It requires a
// server certificate and key file. If clientCACertFile is not empty, client
// certificates are required and verified against it (mTLS). It enforces TLS
// version 1.3.
func ServerConfig(serverCertFile, serverKeyFile, clientCACertFile string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(serverCertFile, serverKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: server cert file %q, key file %q: %w", ErrCertLoad, serverCertFile, serverKeyFile, err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS13,
	}
	if clientCACertFile == "" {
		return cfg, nil
	}
	clientCAs, err := CertPool(clientCACertFile)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = clientCAs
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// ClientConfig creates a TLS configuration for a client. It optionally uses
// the provided server CA certificate, if it's not available as part of the
// root certificates, and the client certificate and key for mTLS when both
// are given. It enforces TLS version 1.2 or higher, as Google front ends
// still negotiate 1.2.
func ClientConfig(serverCACertFile, clientCertFile, clientKeyFile string) (*tls.Config, error) {
	rootCAs, err := CertPool(serverCACertFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		RootCAs:    rootCAs,
		MinVersion: tls.VersionTLS12,
	}
	if clientCertFile == "" && clientKeyFile == "" {
		return cfg, nil
	}
	certificate, err := tls.LoadX509KeyPair(clientCertFile, clientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: client cert file %q, key file %q: %w", ErrCertLoad, clientCertFile, clientKeyFile, err)
	}
	cfg.Certificates = []tls.Certificate{certificate}
	return cfg, nil
}

// CertPool creates a x509.CertPool.
//
// If the provided CA certificate file path is empty, it attempts to load the
// system's certificate pool. If the file path is not empty, it loads the
// certificates from the specified file.
func CertPool(caCertFile string) (*x509.CertPool, error) {
	if caCertFile == "" {
		certPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot get system cert pool: %w", ErrCASetup, err)
		}
		return certPool, nil
	}
	certPool := x509.NewCertPool()
	b, err := os.ReadFile(caCertFile) //nolint:gosec // G304: Potential file inclusion via variable
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %q: %w", ErrCASetup, caCertFile, err)
	}
	if !certPool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("%w: cannot append %q", ErrCASetup, caCertFile)
	}
	return certPool, nil
}

// GenerateSelfSigned writes a self-signed certificate and its private key
// for the given hosts (DNS names or IP addresses) to dir as cert.pem and
// key.pem. The certificate is its own CA, so certFile also serves as the
// CA file of clients. It is valid for server and client authentication, so
// it also serves as an mTLS client certificate. It is meant for local
// emulators and tests.
func GenerateSelfSigned(dir string, hosts ...string) (certFile, keyFile string, err error) { //nolint:nonamedreturns // documents the two paths
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCertGen, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCertGen, err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "telesched emulator"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCertGen, err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCertGen, err)
	}
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := writePEM(certFile, "CERTIFICATE", der); err != nil {
		return "", "", err
	}
	if err := writePEM(keyFile, "EC PRIVATE KEY", keyDER); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

func writePEM(filename, blockType string, der []byte) error {
	b := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(filename, b, 0o600); err != nil {
		return fmt.Errorf("%w: cannot write %q: %w", ErrCertGen, filename, err)
	}
	return nil
}
