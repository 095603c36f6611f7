package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// generateCACert creates a self-signed CA cert and key.
func generateCACert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Jar == nil {
		t.Fatal("expected a cookie jar")
	}
	if c.Timeout != 0 {
		t.Errorf("expected no client-wide timeout, got %v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T; want *http.Transport", c.Transport)
	}
	if tr.TLSClientConfig.MinVersion != 0x0303 {
		t.Errorf("MinVersion = %x; want TLS 1.2", tr.TLSClientConfig.MinVersion)
	}
}

func TestNew_ReadCAError(t *testing.T) {
	_, err := New(Options{CAFile: "nonexistent.pem"})
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file not exist error, got %v", err)
	}
}

func TestNew_InvalidCA(t *testing.T) {
	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, []byte("invalid pem"), 0600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}
	_, err := New(Options{CAFile: caPath})
	if err == nil || !strings.Contains(err.Error(), "failed to parse CA cert") {
		t.Errorf("expected parse CA error, got %v", err)
	}
}

func TestNew_ValidCAAndClientCert(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateCACert(t)
	caPath := filepath.Join(dir, "ca.pem")
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	for path, data := range map[string][]byte{caPath: certPEM, certPath: certPEM, keyPath: keyPEM} {
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	c, err := New(Options{CAFile: caPath, CertFile: certPath, KeyFile: keyPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr := c.Transport.(*http.Transport)
	if tr.TLSClientConfig.RootCAs == nil {
		t.Error("expected RootCAs to be set")
	}
	if len(tr.TLSClientConfig.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(tr.TLSClientConfig.Certificates))
	}
}

func TestNew_MissingKeyPair(t *testing.T) {
	_, err := New(Options{CertFile: "nope.crt", KeyFile: "nope.key"})
	if err == nil || !strings.Contains(err.Error(), "failed to load client cert/key") {
		t.Errorf("expected key pair error, got %v", err)
	}
}

func TestNew_SharedJarAndBase(t *testing.T) {
	jar, err := NewJar()
	if err != nil {
		t.Fatalf("NewJar: %v", err)
	}
	u, _ := url.Parse("https://app.example.com/")
	jar.SetCookies(u, []*http.Cookie{{Name: "csrf_token", Value: "abc"}})

	base := http.DefaultTransport
	c, err := New(Options{Jar: jar, Base: base})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Transport != base {
		t.Error("expected base transport to be used as-is")
	}
	if got := c.Jar.Cookies(u); len(got) != 1 || got[0].Value != "abc" {
		t.Errorf("shared jar cookies = %v", got)
	}
}
