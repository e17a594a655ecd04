// Package certs mints per-domain leaf certificates under a locally trusted
// root CA so the block page can answer HTTPS requests for blocked sites. The
// CA itself is provisioned out of band; without it HTTPS interception is
// unavailable while plain HTTP blocking keeps working.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"homeguard/internal/logger"
	"homeguard/internal/metrics"
)

var ErrCAUnavailable = errors.New("root CA not available")

const (
	keyBits  = 2048
	validity = 365 * 24 * time.Hour
)

type Generator struct {
	caCertPath string
	caKeyPath  string
	dir        string

	mu     sync.Mutex
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

func NewGenerator(caCertPath, caKeyPath, dir string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	g := &Generator{caCertPath: caCertPath, caKeyPath: caKeyPath, dir: dir}
	if !g.CAAvailable() {
		logger.Warn("root CA not found; HTTPS interception disabled until it is provisioned")
	}
	return g, nil
}

// CAAvailable reports whether both CA files exist on disk.
func (g *Generator) CAAvailable() bool {
	for _, p := range []string{g.caCertPath, g.caKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Paths returns the on-disk cert/key locations for a domain. Filenames are
// sanitized so wildcard and path characters cannot escape the cert dir.
func (g *Generator) Paths(d string) (certPath, keyPath string) {
	safe := strings.NewReplacer("*", "wildcard", "/", "_").Replace(d)
	return filepath.Join(g.dir, safe+".crt"), filepath.Join(g.dir, safe+".key")
}

// GetOrCreate returns a cached certificate pair for the domain or mints a new
// one signed by the root CA: 2048-bit RSA, SHA-256, one year validity, SANs
// for the bare and www-prefixed name.
func (g *Generator) GetOrCreate(d string) (certPath, keyPath string, err error) {
	certPath, keyPath = g.Paths(d)
	if fileExists(certPath) && fileExists(keyPath) {
		return certPath, keyPath, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check under the lock; another goroutine may have minted it.
	if fileExists(certPath) && fileExists(keyPath) {
		return certPath, keyPath, nil
	}

	if !g.CAAvailable() {
		return "", "", ErrCAUnavailable
	}
	if err := g.loadCA(); err != nil {
		return "", "", err
	}

	logger.Infof("generating certificate for %s", d)
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: d},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{d, "www." + d},
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, g.caCert, &key.PublicKey, g.caKey)
	if err != nil {
		return "", "", fmt.Errorf("sign certificate for %s: %w", d, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		os.Remove(keyPath)
		return "", "", fmt.Errorf("write certificate: %w", err)
	}

	metrics.CertsIssued.Inc()
	return certPath, keyPath, nil
}

// Load returns a parsed tls.Certificate for the domain, minting it first if
// needed.
func (g *Generator) Load(d string) (*tls.Certificate, error) {
	certPath, keyPath, err := g.GetOrCreate(d)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load pair for %s: %w", d, err)
	}
	return &cert, nil
}

// Sweep deletes cached certificate pairs older than maxAge and returns how
// many were removed.
func (g *Generator) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return 0, fmt.Errorf("list cert dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crt") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		certPath := filepath.Join(g.dir, e.Name())
		keyPath := strings.TrimSuffix(certPath, ".crt") + ".key"
		if err := os.Remove(certPath); err == nil {
			os.Remove(keyPath)
			removed++
			logger.Infof("removed old certificate %s", e.Name())
		}
	}
	return removed, nil
}

func (g *Generator) loadCA() error {
	if g.caCert != nil && g.caKey != nil {
		return nil
	}
	certPEM, err := os.ReadFile(g.caCertPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCAUnavailable, err)
	}
	keyPEM, err := os.ReadFile(g.caKeyPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCAUnavailable, err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("%w: CA certificate is not PEM", ErrCAUnavailable)
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("%w: parse CA certificate: %v", ErrCAUnavailable, err)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("%w: CA key is not PEM", ErrCAUnavailable)
	}
	caKey, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("%w: parse CA key: %v", ErrCAUnavailable, err)
	}

	g.caCert = caCert
	g.caKey = caKey
	return nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("CA key is not RSA")
	}
	return key, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
