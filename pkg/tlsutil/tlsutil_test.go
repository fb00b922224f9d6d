package tlsutil_test

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/juliaogris/telesched/pkg/tlsutil"
	"github.com/stretchr/testify/require"
)

func TestServerConfig(t *testing.T) {
	t.Parallel()
	certFile, keyFile, err := tlsutil.GenerateSelfSigned(t.TempDir(), "127.0.0.1", "localhost")
	require.NoError(t, err)

	cfg, err := tlsutil.ServerConfig(certFile, keyFile, "")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	cfg, err = tlsutil.ServerConfig(certFile, keyFile, certFile)
	require.NoError(t, err)
	require.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	require.NotNil(t, cfg.ClientCAs)
}

func TestServerConfigErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	certFile, keyFile, err := tlsutil.GenerateSelfSigned(dir, "localhost")
	require.NoError(t, err)

	_, err = tlsutil.ServerConfig(filepath.Join(dir, "missing.pem"), keyFile, "")
	require.ErrorIs(t, err, tlsutil.ErrCertLoad)

	_, err = tlsutil.ServerConfig(certFile, keyFile, filepath.Join(dir, "missing-ca.pem"))
	require.ErrorIs(t, err, tlsutil.ErrCASetup)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
	_, err = tlsutil.ServerConfig(certFile, keyFile, garbage)
	require.ErrorIs(t, err, tlsutil.ErrCASetup)
}

func TestClientConfig(t *testing.T) {
	t.Parallel()
	certFile, keyFile, err := tlsutil.GenerateSelfSigned(t.TempDir(), "localhost")
	require.NoError(t, err)

	cfg, err := tlsutil.ClientConfig(certFile, "", "")
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	require.Empty(t, cfg.Certificates)

	cfg, err = tlsutil.ClientConfig(certFile, certFile, keyFile)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	_, err = tlsutil.ClientConfig(certFile, certFile, "")
	require.ErrorIs(t, err, tlsutil.ErrCertLoad)
}

func TestGenerateSelfSignedBadDir(t *testing.T) {
	t.Parallel()
	_, _, err := tlsutil.GenerateSelfSigned(filepath.Join(t.TempDir(), "does", "not", "exist"), "localhost")
	require.ErrorIs(t, err, tlsutil.ErrCertGen)
}
