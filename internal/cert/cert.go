package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const defaultValidity = 365 * 24 * time.Hour

type Options struct {
	DomainNames []string
	IPAddresses []net.IP
	Validity    time.Duration
}

// EnsureServerCertificate creates a self-signed certificate for the collector's gRPC endpoint
// unless both files already exist. It reports whether new files were written.
func EnsureServerCertificate(certPath, keyPath string, opts Options) (bool, error) {
	if fileExists(certPath) && fileExists(keyPath) {
		slog.Debug("Using existing server certificate", "cert_path", certPath)
		return false, nil
	}

	if len(opts.DomainNames) == 0 {
		opts.DomainNames = []string{"localhost"}
	}
	if len(opts.IPAddresses) == 0 {
		opts.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}
	if opts.Validity <= 0 {
		opts.Validity = defaultValidity
	}

	slog.Info("Server certificate not found, generating a self-signed one",
		"cert_path", certPath,
		"domains", opts.DomainNames,
		"ips", opts.IPAddresses)

	certPEM, keyPEM, err := generate(opts, time.Now())
	if err != nil {
		return false, err
	}

	if err := writeFile(certPath, certPEM, 0644); err != nil {
		return false, fmt.Errorf("failed to write server certificate: %w", err)
	}
	if err := writeFile(keyPath, keyPEM, 0600); err != nil {
		return false, fmt.Errorf("failed to write server key: %w", err)
	}

	slog.Info("Generated server certificate", "cert_path", certPath, "key_path", keyPath)
	return true, nil
}

func generate(opts Options, now time.Time) ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate server key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Tailmon"},
			CommonName:   opts.DomainNames[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              opts.DomainNames,
		IPAddresses:           opts.IPAddresses,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode server key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, perm)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
