package transport

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/quictransport/engine"
	"github.com/opd-ai/quictransport/proof"
)

// SessionDialer establishes a session to a peer. The quicbridge package
// provides the production implementation; tests use stubs.
type SessionDialer interface {
	Dial(ctx context.Context, peer *net.UDPAddr) (engine.Session, error)
}

// ClientConfig carries the collaborators client construction needs. IOLoop
// and Resolver are required; the verifier and dialer hooks may be nil, in
// which case the client is constructed without them.
type ClientConfig struct {
	IOLoop    TaskRunner
	EventLoop TaskRunner
	Resolver  Resolver

	// NewVerifier builds the proof verifier on the I/O loop, one per
	// constructed client.
	NewVerifier func() proof.Verifier

	// NewDialer builds the session dialer for a constructed client, given
	// the verifier and the requested peer.
	NewDialer func(v proof.Verifier, host string, port int) SessionDialer
}

// Client is a client endpoint bound to a resolved peer address and the
// runtime's two loops.
type Client struct {
	peer      *net.UDPAddr
	host      string
	ioLoop    TaskRunner
	eventLoop TaskRunner
	verifier  proof.Verifier
	dialer    SessionDialer

	mu      sync.Mutex
	session engine.Session
}

// ConstructClient builds a Client on the I/O loop and blocks the calling
// goroutine until construction finishes there. The reply channel always
// carries a result — nil on resolution failure — so the caller can never be
// left waiting on a construction that silently failed.
//
// Resolution runs synchronously on the I/O loop. That blocks the loop for the
// duration of the lookup, which is acceptable for short-lived tooling with a
// handful of clients and the reason the default resolver caches.
func ConstructClient(cfg ClientConfig, host string, port int) *Client {
	reply := make(chan *Client, 1)

	err := cfg.IOLoop.Post(func() {
		reply <- buildClientOnLoop(cfg, host, port)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ConstructClient",
			"host":     host,
			"error":    err.Error(),
		}).Error("Client construction rejected: runtime stopped")
		return nil
	}

	return <-reply
}

// buildClientOnLoop runs on the I/O loop. It returns nil on resolution
// failure, the one recoverable failure path of client construction.
func buildClientOnLoop(cfg ClientConfig, host string, port int) *Client {
	var verifier proof.Verifier
	if cfg.NewVerifier != nil {
		verifier = cfg.NewVerifier()
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := cfg.Resolver.LookupIP(context.Background(), host)
		if err != nil || len(addrs) == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "buildClientOnLoop",
				"host":     host,
				"error":    lookupError(err),
			}).Error("Unable to resolve client host")
			return nil
		}
		ip = addrs[0]
	}

	c := &Client{
		peer:      &net.UDPAddr{IP: ip, Port: port},
		host:      host,
		ioLoop:    cfg.IOLoop,
		eventLoop: cfg.EventLoop,
		verifier:  verifier,
	}
	if cfg.NewDialer != nil {
		c.dialer = cfg.NewDialer(verifier, host, port)
	}

	logrus.WithFields(logrus.Fields{
		"function": "buildClientOnLoop",
		"host":     host,
		"peer":     c.peer.String(),
	}).Info("Client endpoint constructed")

	return c
}

func lookupError(err error) string {
	if err == nil {
		return "no addresses returned"
	}
	return err.Error()
}

// PeerAddr returns the resolved peer address the client was constructed for.
func (c *Client) PeerAddr() *net.UDPAddr {
	return c.peer
}

// Connect dials the peer and retains the resulting session. Safe to call from
// any goroutine; the dialer owns its own socket state.
func (c *Client) Connect(ctx context.Context) (engine.Session, error) {
	if c.dialer == nil {
		return nil, ErrNoDialer
	}

	sess, err := c.dialer.Dial(ctx, c.peer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Connect",
			"peer":     c.peer.String(),
			"error":    err.Error(),
		}).Error("Client connect failed")
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.Connect",
		"peer":     c.peer.String(),
	}).Info("Client session established")

	return sess, nil
}

// Session returns the session established by Connect, or nil.
func (c *Client) Session() engine.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Stop closes the client's session if one was established. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.CloseWithError(0, "client stopped"); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Stop",
			"error":    err.Error(),
		}).Debug("Closing client session failed")
	}
}
