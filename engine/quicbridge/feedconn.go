package quicbridge

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/quictransport/engine"
)

// feedQueueDepth bounds how many datagrams may sit between the receive loop
// and quic-go's reader before new arrivals are shed. Loss here behaves like
// loss on the wire; QUIC recovers it.
const feedQueueDepth = 256

type queuedDatagram struct {
	data []byte
	peer *net.UDPAddr
}

// feedConn is the net.PacketConn facade a quic.Transport reads from. Inbound
// datagrams are pushed by the runtime's receive loop; outbound writes are
// forwarded to the runtime's packet writer.
type feedConn struct {
	local  net.Addr
	writer engine.PacketWriter

	in        chan queuedDatagram
	closed    chan struct{}
	closeOnce sync.Once
}

func newFeedConn(local net.Addr, writer engine.PacketWriter) *feedConn {
	return &feedConn{
		local:  local,
		writer: writer,
		in:     make(chan queuedDatagram, feedQueueDepth),
		closed: make(chan struct{}),
	}
}

// enqueue copies data and queues it for the reader. Called on the I/O loop;
// must never block it.
func (c *feedConn) enqueue(data []byte, peer *net.UDPAddr) {
	d := queuedDatagram{
		data: append([]byte(nil), data...),
		peer: peer,
	}
	select {
	case c.in <- d:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "feedConn.enqueue",
			"peer":     peer.String(),
		}).Warn("Inbound datagram shed: engine queue full")
	}
}

func (c *feedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	// Drain queued datagrams before honoring close, so packets that
	// arrived ahead of shutdown still reach the engine.
	select {
	case d := <-c.in:
		return copy(p, d.data), d.peer, nil
	default:
	}
	select {
	case d := <-c.in:
		return copy(p, d.data), d.peer, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *feedConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	peer, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, &net.AddrError{Err: "peer is not a UDP address", Addr: addr.String()}
	}
	if err := c.writer.WritePacket(p, peer); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *feedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *feedConn) LocalAddr() net.Addr { return c.local }

// Deadlines are unused by quic-go's transport reader; it unblocks ReadFrom by
// closing the conn instead.
func (c *feedConn) SetDeadline(t time.Time) error      { return nil }
func (c *feedConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *feedConn) SetWriteDeadline(t time.Time) error { return nil }
