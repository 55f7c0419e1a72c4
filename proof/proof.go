// Package proof models the certificate capabilities the transport runtime
// consumes: a Source that produces server identity material and signatures,
// and a Verifier that checks them on the client side.
//
// Both capabilities are callback based because real certificate backends
// resolve asynchronously. Implementations must always resolve their callbacks;
// leaving a callback unresolved stalls the handshake that is waiting on it.
package proof

import "net"

// Chain is a server certificate chain, leaf first, in DER encoding (or
// placeholder bytes for non-production sources).
type Chain struct {
	Certs [][]byte
}

// Proof carries the signature material a Source produced for one handshake.
type Proof struct {
	Signature    []byte
	LeafCertSCTs string
}

// SourceCallback receives the result of a GetProof call. ok is false when the
// source could not produce material for the requested hostname.
type SourceCallback func(ok bool, chain *Chain, p *Proof)

// SignatureCallback receives the result of a ComputeTLSSignature call.
type SignatureCallback func(ok bool, signature []byte)

// Source produces server identity material. Implementations are invoked on
// the runtime's I/O loop and must resolve every callback exactly once.
type Source interface {
	// GetProof produces the certificate chain and signature proof for a
	// handshake between the given addresses.
	GetProof(server, client *net.UDPAddr, hostname string, serverConfig []byte, cb SourceCallback)

	// CertChain returns the chain that GetProof would hand to its
	// callback, without producing a signature.
	CertChain(server, client *net.UDPAddr, hostname string) *Chain

	// ComputeTLSSignature signs in with the leaf certificate key using the
	// given TLS signature algorithm.
	ComputeTLSSignature(server, client *net.UDPAddr, hostname string, sigAlg uint16, in []byte, cb SignatureCallback)
}

// Verifier checks server identity material on the client side. A nil error
// means the material was accepted.
type Verifier interface {
	// VerifyProof checks a chain plus signature produced by a Source.
	VerifyProof(hostname string, port int, serverConfig []byte, chain *Chain, signature []byte) error

	// VerifyCertChain checks a bare certificate chain.
	VerifyCertChain(hostname string, port int, chain *Chain) error
}
