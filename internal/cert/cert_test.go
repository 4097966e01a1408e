package cert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureServerCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certs", "server-cert.pem")
	keyPath := filepath.Join(dir, "certs", "server-key.pem")

	created, err := EnsureServerCertificate(certPath, keyPath, Options{
		DomainNames: []string{"collector.tailnet.ts.net"},
		IPAddresses: []net.IP{net.ParseIP("100.100.100.100")},
	})
	require.NoError(t, err)
	assert.True(t, created)

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.Len(t, pair.Certificate, 1)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "collector.tailnet.ts.net", parsed.Subject.CommonName)
	assert.NoError(t, parsed.VerifyHostname("100.100.100.100"))
	assert.NoError(t, parsed.VerifyHostname("collector.tailnet.ts.net"))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestEnsureServerCertificate_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	_, err := EnsureServerCertificate(certPath, keyPath, Options{})
	require.NoError(t, err)
	before, err := os.ReadFile(certPath)
	require.NoError(t, err)

	created, err := EnsureServerCertificate(certPath, keyPath, Options{})
	require.NoError(t, err)
	assert.False(t, created)

	after, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnsureServerCertificate_Defaults(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")

	_, err := EnsureServerCertificate(certPath, filepath.Join(dir, "key.pem"), Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.NoError(t, parsed.VerifyHostname("localhost"))
	assert.NoError(t, parsed.VerifyHostname("127.0.0.1"))
}
