package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCA(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "ca.crt")
	keyPath = filepath.Join(dir, "ca.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	return certPath, keyPath
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	dir := t.TempDir()
	caCert, caKey := writeTestCA(t, dir)
	g, err := NewGenerator(caCert, caKey, filepath.Join(dir, "domains"))
	require.NoError(t, err)
	return g
}

func TestGetOrCreate(t *testing.T) {
	g := newTestGenerator(t)

	certPath, keyPath, err := g.GetOrCreate("example.com")
	require.NoError(t, err)

	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "example.com", cert.Subject.CommonName)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, cert.DNSNames)
	assert.Equal(t, x509.SHA256WithRSA, cert.SignatureAlgorithm)
	assert.WithinDuration(t, time.Now().Add(validity), cert.NotAfter, time.Minute)

	keyInfo, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())
}

func TestGetOrCreateReusesExisting(t *testing.T) {
	g := newTestGenerator(t)

	certPath, _, err := g.GetOrCreate("example.com")
	require.NoError(t, err)
	first, err := os.ReadFile(certPath)
	require.NoError(t, err)

	_, _, err = g.GetOrCreate("example.com")
	require.NoError(t, err)
	second, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPathsSanitized(t *testing.T) {
	g := newTestGenerator(t)

	certPath, keyPath := g.Paths("*.example.com")
	assert.Contains(t, filepath.Base(certPath), "wildcard.example.com")
	assert.Contains(t, filepath.Base(keyPath), "wildcard.example.com")

	certPath, _ = g.Paths("evil/../../etc/passwd")
	assert.Equal(t, g.dir, filepath.Dir(certPath))
	assert.NotContains(t, filepath.Base(certPath), "/")
}

func TestLoadProducesUsablePair(t *testing.T) {
	g := newTestGenerator(t)

	cert, err := g.Load("example.com")
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.NotEmpty(t, cert.Certificate)
}

func TestMissingCA(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGenerator(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"), dir)
	require.NoError(t, err)
	assert.False(t, g.CAAvailable())

	_, _, err = g.GetOrCreate("example.com")
	assert.ErrorIs(t, err, ErrCAUnavailable)
}

func TestSweepRemovesOldPairs(t *testing.T) {
	g := newTestGenerator(t)

	certPath, keyPath, err := g.GetOrCreate("old.example.com")
	require.NoError(t, err)
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(certPath, stale, stale))

	_, _, err = g.GetOrCreate("fresh.example.com")
	require.NoError(t, err)

	removed, err := g.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(certPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keyPath)
	assert.True(t, os.IsNotExist(err))

	freshCert, _ := g.Paths("fresh.example.com")
	_, err = os.Stat(freshCert)
	assert.NoError(t, err)
}
