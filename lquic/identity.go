package lquic

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// ALPN is the TLS application protocol negotiated on data connections.
const ALPN = "lsl/1"

// Identity is the TLS certificate an engine presents on its listener.
//
// Streams are identified by their declaration, not by a certificate,
// so identities are generated per engine and never verified by clients.
// TLS still provides encryption and integrity of the data connection.
type Identity struct {
	Cert tls.Certificate
}

// NewIdentity generates a self-signed ed25519 certificate for commonName.
func NewIdentity(commonName string) (*Identity, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject: pkix.Name{
			Organization: []string{"lsl"},
			CommonName:   commonName,
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(10 * 365 * 24 * time.Hour),

		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		BasicConstraintsValid: true,
		DNSNames:              []string{commonName},
	}

	derBytes, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	// Parse the actual certificate from the DER.
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &Identity{
		Cert: tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  privKey,
			Leaf:        cert,
		},
	}, nil
}

// ServerTLSConfig is the TLS configuration for the listener.
func (id *Identity) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig is the TLS configuration for dialing a listener.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		// See the Identity type: certificates are ephemeral and unverifiable.
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

func randomSerial() *big.Int {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := crand.Int(crand.Reader, serialNumberLimit)
	if err != nil {
		panic(fmt.Errorf("failed to generate serial number: %w", err))
	}
	return serialNumber
}
