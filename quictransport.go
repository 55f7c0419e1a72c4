// Package quictransport turns raw UDP sockets into QUIC transport endpoints.
//
// A Factory owns two long-lived run loops — the I/O loop that drives sockets
// and the protocol engine, and the event loop that services the engine's
// timer callbacks — and hands out server and client endpoints that share
// them.
//
// Example:
//
//	runtime := quictransport.New(nil)
//	defer runtime.Close()
//
//	srv := runtime.NewServerFromFiles(4433, "cert.pem", "key.pem")
//	srv.SetVisitor(engine.VisitorFunc(func(sess engine.Session) {
//	    fmt.Println("session from", sess.RemoteAddr())
//	}))
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	client := runtime.NewClient("server.example.org", 4433)
//	if client == nil {
//	    log.Fatal("client construction failed")
//	}
package quictransport

import (
	"crypto/tls"
	"crypto/x509"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/quictransport/engine/quicbridge"
	"github.com/opd-ai/quictransport/proof"
	"github.com/opd-ai/quictransport/runloop"
	"github.com/opd-ai/quictransport/transport"
)

// initOnce guards process-wide setup so creating additional runtimes never
// reconfigures logging midway through the process lifetime.
var initOnce sync.Once

func initProcess(opts *Options) {
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.WithFields(logrus.Fields{
		"function":          "initProcess",
		"log_level":         level.String(),
		"alpn":              opts.ALPN,
		"datagrams_enabled": opts.EnableDatagrams,
		"handshake_timeout": opts.HandshakeTimeout,
	}).Info("Transport runtime process setup complete")
}

// Factory is the transport runtime. It owns the I/O and event loops and
// creates the endpoints that share them. Create one with New and release it
// with Close at process teardown.
type Factory struct {
	opts      *Options
	ioLoop    *runloop.Loop
	eventLoop *runloop.Loop
	resolver  transport.Resolver
}

// New creates a runtime: it performs guarded one-time process setup and
// starts the two loops eagerly. Every endpoint created by this runtime runs
// on these loops.
func New(opts *Options) *Factory {
	if opts == nil {
		opts = NewOptions()
	}
	initOnce.Do(func() { initProcess(opts) })

	f := &Factory{
		opts:      opts,
		ioLoop:    runloop.New("quictransport-io"),
		eventLoop: runloop.New("quictransport-event"),
	}
	f.resolver = transport.NewCachingResolver(
		transport.NewSystemResolver(),
		opts.ResolverCacheSize,
		opts.ResolverCacheTTL,
	)

	logrus.WithField("function", "New").Info("Transport runtime created")
	return f
}

// NewServer creates an unstarted server endpoint on port, identified by the
// given certificate material. Material that cannot back a server is a fatal
// configuration error: no endpoint may exist in a partially initialized
// state.
func (f *Factory) NewServer(port int, material *proof.Material) *transport.Server {
	if material == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Factory.NewServer",
			"port":     port,
		}).Fatal("Server requires certificate material")
	}
	resetKey, err := material.StatelessResetKey()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Factory.NewServer",
			"port":     port,
			"error":    err.Error(),
		}).Fatal("Certificate material cannot derive a stateless reset key")
	}

	bridge := quicbridge.New(quicbridge.Config{
		TLS:       material.ServerTLSConfig(f.opts.ALPN),
		QUIC:      f.quicConfig(),
		ResetKey:  &resetKey,
		IOLoop:    f.ioLoop,
		EventLoop: f.eventLoop,
	})

	srv := transport.NewServer(transport.ServerConfig{
		Port:              port,
		Engine:            bridge,
		IOLoop:            f.ioLoop,
		EventLoop:         f.eventLoop,
		ReceiveBufferSize: f.opts.ReceiveBufferSize,
		SendBufferSize:    f.opts.SendBufferSize,
	})

	// Sessions accepted by the engine route through the server to its
	// registered visitor.
	bridge.SetSessionVisitor(srv)

	return srv
}

// NewServerFromFiles is NewServer with PEM cert/key paths. Unloadable
// material is fatal, matching NewServer's contract.
func (f *Factory) NewServerFromFiles(port int, certFile, keyFile string) *transport.Server {
	material, err := proof.LoadMaterial(certFile, keyFile)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Factory.NewServerFromFiles",
			"cert_file": certFile,
			"key_file":  keyFile,
			"error":     err.Error(),
		}).Fatal("Certificate material could not be loaded")
	}
	return f.NewServer(port, material)
}

// NewClient constructs a client endpoint for host:port, blocking the calling
// goroutine until construction finishes on the I/O loop. Returns nil when the
// host cannot be resolved — the one recoverable failure of endpoint creation.
func (f *Factory) NewClient(host string, port int) *transport.Client {
	cfg := transport.ClientConfig{
		IOLoop:    f.ioLoop,
		EventLoop: f.eventLoop,
		Resolver:  f.resolver,
		NewVerifier: func() proof.Verifier {
			return proof.NewInsecureVerifier()
		},
		NewDialer: f.newDialer,
	}
	return transport.ConstructClient(cfg, host, port)
}

// Close stops both loops. Endpoints created by this runtime must be stopped
// first.
func (f *Factory) Close() {
	f.eventLoop.Stop()
	f.ioLoop.Stop()
	logrus.WithField("function", "Factory.Close").Info("Transport runtime stopped")
}

func (f *Factory) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: f.opts.HandshakeTimeout,
		MaxIdleTimeout:       f.opts.MaxIdleTimeout,
		EnableDatagrams:      f.opts.EnableDatagrams,
	}
}

// newDialer builds the session dialer for one constructed client. TLS chain
// checks delegate to the proof verifier built on the I/O loop.
func (f *Factory) newDialer(v proof.Verifier, host string, port int) transport.SessionDialer {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{f.opts.ALPN},
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return v.VerifyCertChain(host, port, &proof.Chain{Certs: rawCerts})
		},
	}
	return &quicbridge.Dialer{TLS: tlsConf, QUIC: f.quicConfig()}
}
