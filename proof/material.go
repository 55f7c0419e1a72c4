package proof

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// resetKeyInfo labels the HKDF expansion of the stateless reset key so the
// same private key never yields this key for any other purpose.
const resetKeyInfo = "quictransport stateless reset key"

// Material is the certificate and key a server endpoint identifies itself
// with. It backs both the TLS configuration handed to the protocol engine and
// the stateless reset key derivation.
type Material struct {
	cert tls.Certificate
}

// LoadMaterial reads a PEM certificate/key pair from disk.
func LoadMaterial(certFile, keyFile string) (*Material, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate material: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "LoadMaterial",
		"cert_file": certFile,
		"key_file":  keyFile,
	}).Info("Loaded certificate material")

	return &Material{cert: cert}, nil
}

// EphemeralMaterial generates a self-signed certificate valid for one day.
// Suitable for tests and local tooling, not for production identity.
func EphemeralMaterial() (*Material, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{Organization: []string{"quictransport ephemeral"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral certificate: %w", err)
	}

	return &Material{cert: tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}}, nil
}

// Certificate returns the underlying TLS certificate.
func (m *Material) Certificate() tls.Certificate {
	return m.cert
}

// ServerTLSConfig builds the TLS configuration a server-side protocol engine
// uses for its handshakes.
func (m *Material) ServerTLSConfig(alpn string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
}

// StatelessResetKey derives the 32-byte stateless reset key from the private
// key, so restarts of the same server reset stale connections consistently.
func (m *Material) StatelessResetKey() ([32]byte, error) {
	var key [32]byte

	secret, err := x509.MarshalPKCS8PrivateKey(m.cert.PrivateKey)
	if err != nil {
		return key, fmt.Errorf("marshaling private key for reset key derivation: %w", err)
	}

	r := hkdf.New(sha256.New, secret, nil, []byte(resetKeyInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("deriving stateless reset key: %w", err)
	}
	return key, nil
}
