// Package quicbridge implements the protocol-engine capability on top of
// quic-go.
//
// The bridge does not own a socket. Inbound datagrams are fed to it through
// the engine interface and queued into a net.PacketConn facade that a
// quic.Transport reads from; outbound packets flow back through the packet
// writer the runtime installed. Sessions accepted by quic-go surface on the
// runtime's I/O loop through the registered visitor.
package quicbridge

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/quictransport/engine"
	"github.com/opd-ai/quictransport/runloop"
)

// Runner is the subset of a run loop the bridge posts callbacks onto.
type Runner interface {
	Post(t runloop.Task) error
}

// Config assembles a Bridge.
type Config struct {
	// TLS is the server handshake configuration, typically built from
	// proof.Material.
	TLS *tls.Config

	// QUIC tunes the quic-go transport. May be nil.
	QUIC *quic.Config

	// ResetKey, when set, enables stateless resets keyed by it.
	ResetKey *[32]byte

	// IOLoop receives session notifications; EventLoop receives session
	// lifetime callbacks.
	IOLoop    Runner
	EventLoop Runner
}

// Bridge is an engine.Engine backed by a quic.Transport. All engine methods
// run on the runtime's I/O loop.
type Bridge struct {
	cfg     Config
	visitor engine.Visitor
	writer  engine.PacketWriter

	conn     *feedConn
	tr       *quic.Transport
	ln       *quic.Listener
	shutdown bool
}

// New creates an idle bridge. The underlying quic.Transport is brought up
// lazily on the first processed packet, once the local address is known.
func New(cfg Config) *Bridge {
	return &Bridge{cfg: cfg}
}

// SetSessionVisitor registers the visitor that receives accepted sessions.
// Must be called before the owning endpoint starts.
func (b *Bridge) SetSessionVisitor(v engine.Visitor) {
	b.visitor = v
}

// InitializeWithWriter implements engine.Engine.
func (b *Bridge) InitializeWithWriter(w engine.PacketWriter) {
	b.writer = w
}

// ProcessPacket implements engine.Engine. The packet payload is copied; the
// runtime reuses its receive buffer immediately after this call.
func (b *Bridge) ProcessPacket(local, peer *net.UDPAddr, pkt *engine.ReceivedPacket) {
	if b.shutdown {
		return
	}
	if b.tr == nil {
		if err := b.start(local); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Bridge.ProcessPacket",
				"error":    err.Error(),
			}).Error("Failed to start QUIC transport")
			return
		}
	}
	b.conn.enqueue(pkt.Data, peer)
}

// ProcessBufferedChlos implements engine.Engine. quic-go resumes its own
// parked handshakes internally, so there is no backlog to drain here.
func (b *Bridge) ProcessBufferedChlos(max int) {}

// HasChlosBuffered implements engine.Engine.
func (b *Bridge) HasChlosBuffered() bool { return false }

// Shutdown implements engine.Engine. Closing the listener first lets quic-go
// send CONNECTION_CLOSE frames for live sessions while the writer still
// works.
func (b *Bridge) Shutdown() {
	if b.shutdown {
		return
	}
	b.shutdown = true

	if b.ln != nil {
		_ = b.ln.Close()
	}
	if b.tr != nil {
		_ = b.tr.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}

	logrus.WithField("function", "Bridge.Shutdown").Debug("QUIC bridge shut down")
}

func (b *Bridge) start(local *net.UDPAddr) error {
	b.conn = newFeedConn(local, b.writer)
	b.tr = &quic.Transport{Conn: b.conn}
	if b.cfg.ResetKey != nil {
		key := quic.StatelessResetKey(*b.cfg.ResetKey)
		b.tr.StatelessResetKey = &key
	}

	ln, err := b.tr.Listen(b.cfg.TLS, b.cfg.QUIC)
	if err != nil {
		b.tr = nil
		return err
	}
	b.ln = ln

	go b.acceptLoop(ln)

	logrus.WithFields(logrus.Fields{
		"function":   "Bridge.start",
		"local_addr": local.String(),
	}).Info("QUIC transport listening")

	return nil
}

func (b *Bridge) acceptLoop(ln *quic.Listener) {
	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			// Listener closed during shutdown.
			logrus.WithFields(logrus.Fields{
				"function": "Bridge.acceptLoop",
				"error":    err.Error(),
			}).Debug("Accept loop finished")
			return
		}

		sess := &Session{conn: conn}
		b.watchSession(sess)

		_ = b.cfg.IOLoop.Post(func() {
			if b.shutdown || b.visitor == nil {
				return
			}
			b.visitor.OnSession(sess)
		})
	}
}

// watchSession reports the session's end on the event loop, which services
// the engine's lifetime callbacks.
func (b *Bridge) watchSession(sess *Session) {
	go func() {
		<-sess.conn.Context().Done()
		_ = b.cfg.EventLoop.Post(func() {
			logrus.WithFields(logrus.Fields{
				"function": "Bridge.watchSession",
				"peer":     sess.RemoteAddr().String(),
			}).Debug("Session ended")
		})
	}()
}

// Session wraps a quic.Connection as an engine.Session.
type Session struct {
	conn quic.Connection
}

// RemoteAddr implements engine.Session.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// CloseWithError implements engine.Session.
func (s *Session) CloseWithError(code uint64, reason string) error {
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// Connection exposes the underlying quic-go connection for stream use.
func (s *Session) Connection() quic.Connection {
	return s.conn
}

// Dialer establishes client sessions with quic-go. It owns its own socket;
// client endpoints do not share the server receive path.
type Dialer struct {
	TLS  *tls.Config
	QUIC *quic.Config
}

// Dial connects to peer and wraps the connection as an engine.Session.
func (d *Dialer) Dial(ctx context.Context, peer *net.UDPAddr) (engine.Session, error) {
	conn, err := quic.DialAddr(ctx, peer.String(), d.TLS, d.QUIC)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}
