package proof

import (
	"net"

	"github.com/sirupsen/logrus"
)

// Placeholder material handed out by the insecure implementations. The values
// are deliberately recognizable so they cannot be mistaken for real identity
// material in a capture.
var (
	placeholderCert      = []byte("insecure placeholder cert")
	placeholderSignature = []byte("insecure placeholder signature")
	placeholderSCTs      = "insecure placeholder timestamp"
)

// InsecureSource is a Source for non-production and test configurations. It
// always succeeds with placeholder material and never leaves a callback
// unresolved.
type InsecureSource struct{}

// NewInsecureSource creates an InsecureSource and logs a warning so the
// configuration is visible in production captures.
func NewInsecureSource() *InsecureSource {
	logrus.WithField("function", "NewInsecureSource").
		Warn("Using insecure proof source; server identity is not verifiable")
	return &InsecureSource{}
}

// GetProof resolves the callback immediately with placeholder material.
func (s *InsecureSource) GetProof(server, client *net.UDPAddr, hostname string, serverConfig []byte, cb SourceCallback) {
	cb(true, s.CertChain(server, client, hostname), &Proof{
		Signature:    placeholderSignature,
		LeafCertSCTs: placeholderSCTs,
	})
}

// CertChain returns a single-entry placeholder chain.
func (s *InsecureSource) CertChain(server, client *net.UDPAddr, hostname string) *Chain {
	return &Chain{Certs: [][]byte{placeholderCert}}
}

// ComputeTLSSignature resolves the callback immediately with a placeholder
// signature.
func (s *InsecureSource) ComputeTLSSignature(server, client *net.UDPAddr, hostname string, sigAlg uint16, in []byte, cb SignatureCallback) {
	cb(true, placeholderSignature)
}

// InsecureVerifier accepts any proof and any chain. For non-production and
// test configurations only.
type InsecureVerifier struct{}

// NewInsecureVerifier creates an InsecureVerifier and logs a warning.
func NewInsecureVerifier() *InsecureVerifier {
	logrus.WithField("function", "NewInsecureVerifier").
		Warn("Using insecure proof verifier; server identity is not checked")
	return &InsecureVerifier{}
}

// VerifyProof accepts unconditionally.
func (v *InsecureVerifier) VerifyProof(hostname string, port int, serverConfig []byte, chain *Chain, signature []byte) error {
	return nil
}

// VerifyCertChain accepts unconditionally.
func (v *InsecureVerifier) VerifyCertChain(hostname string, port int, chain *Chain) error {
	return nil
}
