// Package mitm holds the TLS interception material: a process-wide
// certificate authority generated once, and per-origin leaf certificates
// minted on demand so the proxy can terminate TLS for any host the browser
// visits. The CA is immutable after generation and safe for concurrent use.
package mitm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

// CA is a self-signed certificate authority plus a leaf cache keyed by
// hostname.
type CA struct {
	cert   tls.Certificate
	parsed *x509.Certificate

	mu    sync.Mutex
	leafs map[string]*tls.Certificate
}

// NewCA generates a fresh ECDSA P-256 certificate authority valid for one
// month. Leaf issuance is cheap enough that persistence is not needed for
// a single capture run.
func NewCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mitm: generate CA key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "webmock interception CA",
			Organization: []string{"webmock"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(0, 1, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mitm: create CA certificate: %w", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("mitm: parse CA certificate: %w", err)
	}

	return &CA{
		cert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        parsed,
		},
		parsed: parsed,
		leafs:  make(map[string]*tls.Certificate),
	}, nil
}

// CertPEM returns the CA certificate in PEM form, for handing to the
// controlled browser as a trusted root.
func (ca *CA) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Certificate[0]})
}

// Pool returns a cert pool containing only this CA, for clients that need
// to verify connections terminated by it.
func (ca *CA) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.parsed)
	return pool
}

// LeafFor returns a leaf certificate for host, minting and caching one on
// first use. Host may be a DNS name or an IP literal.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if leaf, ok := ca.leafs[host]; ok {
		return leaf, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mitm: generate leaf key for %s: %w", host, err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(0, 0, 7),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.parsed, &key.PublicKey, ca.cert.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("mitm: sign leaf for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Certificate[0]},
		PrivateKey:  key,
	}
	ca.leafs[host] = leaf
	return leaf, nil
}

// TLSConfigFor builds a server-side TLS config for a tunnel to host,
// preferring the client's SNI when present.
func (ca *CA) TLSConfigFor(host string) *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := host
			if hello.ServerName != "" {
				name = hello.ServerName
			}
			return ca.LeafFor(name)
		},
	}
}
