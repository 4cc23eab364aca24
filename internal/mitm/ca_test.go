package mitm

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafSignedByCA(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)

	leaf, err := ca.LeafFor("example.com")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)

	_, err = cert.Verify(x509.VerifyOptions{
		DNSName: "example.com",
		Roots:   ca.Pool(),
	})
	assert.NoError(t, err)
}

func TestLeafCacheReuse(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)

	a, err := ca.LeafFor("example.com")
	require.NoError(t, err)
	b, err := ca.LeafFor("example.com")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := ca.LeafFor("other.com")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestLeafForIPLiteral(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)

	leaf, err := ca.LeafFor("127.0.0.1")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
}

func TestTLSConfigPrefersSNI(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)

	cfg := ca.TLSConfigFor("fallback.example")
	leaf, err := cfg.GetCertificate(&tls.ClientHelloInfo{ServerName: "sni.example"})
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "sni.example")
}

func TestCertPEM(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)

	pemBytes := ca.CertPEM()
	assert.Contains(t, string(pemBytes), "BEGIN CERTIFICATE")
}
