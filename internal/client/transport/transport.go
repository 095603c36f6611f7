// Package transport builds the HTTP client shared by every component of a
// tab: one cookie jar (the browser's cookie store) and optional TLS material.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"

	"golang.org/x/net/publicsuffix"
)

// Options configures New.
type Options struct {
	// CAFile is an optional PEM bundle trusted in addition to nothing else.
	CAFile string
	// CertFile and KeyFile are an optional client certificate pair.
	CertFile string
	KeyFile  string
	// Base is the round tripper to wrap; defaults to a fresh http.Transport.
	// Tests pass the transport of an httptest TLS server here.
	Base http.RoundTripper
	// Jar overrides the cookie jar; tabs of one origin may share a jar.
	Jar http.CookieJar
}

// New returns an http.Client with a public-suffix aware cookie jar. The
// client carries no global timeout: each component bounds its own calls.
func New(opts Options) (*http.Client, error) {
	jar := opts.Jar
	if jar == nil {
		var err error
		jar, err = NewJar()
		if err != nil {
			return nil, err
		}
	}

	rt := opts.Base
	if rt == nil {
		tlsCfg, err := tlsConfig(opts)
		if err != nil {
			return nil, err
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsCfg
		rt = t
	}

	return &http.Client{Transport: rt, Jar: jar}, nil
}

// NewJar returns an empty cookie jar.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

func tlsConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		cfg.RootCAs = caPool
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
