// Package engine defines the protocol-engine capability the transport runtime
// feeds datagrams into.
//
// The runtime treats the QUIC state machine as opaque: it hands every received
// datagram, together with its addressing and receive timestamp, to an Engine
// and surfaces the sessions the engine creates through a Visitor. The
// quicbridge subpackage provides a production engine backed by quic-go; tests
// use lightweight stubs.
package engine

import (
	"net"
	"time"
)

// PacketWriter sends a single datagram to a peer. Engines use the writer the
// runtime hands them in InitializeWithWriter for all outbound packets, so the
// runtime keeps ownership of the socket.
type PacketWriter interface {
	// WritePacket sends data to peer as one datagram.
	WritePacket(data []byte, peer *net.UDPAddr) error
}

// ReceivedPacket is one inbound datagram stamped with its receive time.
// Data is only valid for the duration of the ProcessPacket call; engines that
// retain the payload must copy it.
type ReceivedPacket struct {
	Data       []byte
	ReceivedAt time.Time
}

// Session represents one established connection created by the engine.
type Session interface {
	// RemoteAddr returns the peer address of the session.
	RemoteAddr() net.Addr

	// CloseWithError tears the session down, notifying the peer with the
	// given application error code and reason.
	CloseWithError(code uint64, reason string) error
}

// Visitor receives session lifecycle notifications. OnSession is invoked on
// the runtime's I/O loop, once per newly created session.
type Visitor interface {
	OnSession(Session)
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(Session)

// OnSession implements Visitor.
func (f VisitorFunc) OnSession(s Session) { f(s) }

// Engine is the protocol dispatcher consumed by the transport runtime.
//
// All methods are invoked on the runtime's I/O loop; implementations may rely
// on that for ordering and need no internal locking against the runtime.
type Engine interface {
	// InitializeWithWriter hands the engine the writer it must use for all
	// outbound packets. Called exactly once, before any ProcessPacket.
	InitializeWithWriter(w PacketWriter)

	// ProcessPacket feeds one received datagram to the engine, together
	// with the local and peer socket addresses it traveled between.
	ProcessPacket(local, peer *net.UDPAddr, pkt *ReceivedPacket)

	// ProcessBufferedChlos lets the engine resume up to max client hellos
	// it had to buffer earlier because session capacity was exhausted.
	ProcessBufferedChlos(max int)

	// HasChlosBuffered reports whether buffered client hellos are waiting
	// for another ProcessBufferedChlos pass.
	HasChlosBuffered() bool

	// Shutdown closes the engine, giving in-flight sessions a chance to
	// notify their peers before the socket goes away.
	Shutdown()
}
