package palantir

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// selfSignedValidity is how long a generated identity cert is valid for.
// There is no certificate rotation in this module; a long-lived leaf cert
// for a local/loopback identity is the common case, per spec.md §6 "Server
// uses an identity valid for localhost / 127.0.0.1 by default".
const selfSignedValidity = 10 * 365 * 24 * time.Hour

// SelfSignedServerTLSConfig generates a fresh ECDSA P-256 keypair and a
// self-signed leaf certificate valid for "localhost" and 127.0.0.1, and
// wraps it in a server-side tls.Config. No corpus library in this module's
// domain stack specifically builds self-signed localhost leaf certs (see
// DESIGN.md); this is the one component built on the standard library
// alone.
func SelfSignedServerTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"palantir"},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// InsecureClientTLSConfig returns a client tls.Config that accepts any
// server certificate, matching spec.md §6's "the peer core does not
// mandate certificate pinning; admission is the validator's
// responsibility" — trust is established by the handshake and validator
// layers above TLS, not by certificate verification.
func InsecureClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"palantir"},
		MinVersion:         tls.VersionTLS13,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating identity key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(selfSignedValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
