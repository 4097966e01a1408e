package tls

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailmon/tailmon/internal/cert"
)

func TestParseClientAuthType(t *testing.T) {
	cases := map[string]tls.ClientAuthType{
		"":        tls.NoClientCert,
		"none":    tls.NoClientCert,
		"request": tls.RequestClientCert,
		"require": tls.RequireAndVerifyClientCert,
	}
	for in, want := range cases {
		got, err := ParseClientAuthType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseClientAuthType("always")
	assert.Error(t, err)
}

func TestLoadServerCredentials_MissingFiles(t *testing.T) {
	_, err := LoadServerCredentials("/nonexistent/cert.pem", "/nonexistent/key.pem", "", tls.NoClientCert)
	assert.Error(t, err)
}

func TestLoadServerCredentials_GeneratedCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server-cert.pem")
	keyPath := filepath.Join(dir, "server-key.pem")
	_, err := cert.EnsureServerCertificate(certPath, keyPath, cert.Options{})
	require.NoError(t, err)

	creds, err := LoadServerCredentials(certPath, keyPath, "", tls.NoClientCert)
	require.NoError(t, err)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)

	// Requiring client certificates needs a CA bundle; the self-signed certificate serves as one.
	_, err = LoadServerCredentials(certPath, keyPath, certPath, tls.RequireAndVerifyClientCert)
	assert.NoError(t, err)
}

func TestLoadClientCredentials(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server-cert.pem")
	_, err := cert.EnsureServerCertificate(certPath, filepath.Join(dir, "server-key.pem"), cert.Options{})
	require.NoError(t, err)

	creds, err := LoadClientCredentials(certPath, "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", creds.Info().ServerName)

	_, err = LoadClientCredentials(filepath.Join(dir, "missing.pem"), "")
	assert.Error(t, err)

	_, err = LoadClientCredentials("", "")
	assert.NoError(t, err)
}
