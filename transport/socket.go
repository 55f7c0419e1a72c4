package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// ReadResult is the outcome of one receive operation.
type ReadResult struct {
	N    int
	Peer *net.UDPAddr
	Err  error
}

// PacketSocket is the asynchronous receive surface of a bound UDP socket.
//
// RecvFrom either completes synchronously, returning the result with
// pending=false, or arranges for complete to be posted to the socket's run
// loop once a datagram arrives and returns pending=true. At most one receive
// may be outstanding at a time; the caller enforces that.
type PacketSocket interface {
	RecvFrom(buf []byte, complete func(ReadResult)) (res ReadResult, pending bool)
	WriteTo(data []byte, peer *net.UDPAddr) (int, error)
	LocalAddr() *net.UDPAddr
	Close() error
}

type inboundDatagram struct {
	data []byte
	peer *net.UDPAddr
	err  error
}

// asyncUDPSocket adapts a blocking *net.UDPConn to the PacketSocket surface.
// A reader goroutine pulls datagrams into a buffered channel; RecvFrom drains
// the channel without blocking, so the run loop sees synchronous completion
// whenever the kernel already delivered data.
type asyncUDPSocket struct {
	conn     *net.UDPConn
	loop     TaskRunner
	incoming chan inboundDatagram

	closeOnce sync.Once
	closeErr  error
}

// bindUDPSocket binds a wildcard UDP socket on the given port with address
// reuse enabled, and applies the kernel buffer sizes. Buffer configuration
// failures are logged and tolerated.
func bindUDPSocket(port int, recvBufSize, sendBufSize int, loop TaskRunner) (*asyncUDPSocket, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding UDP socket on port %d: %w", port, err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(recvBufSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "bindUDPSocket",
			"size":     recvBufSize,
			"error":    err.Error(),
		}).Warn("Failed to set socket receive buffer size")
	}
	if err := conn.SetWriteBuffer(sendBufSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "bindUDPSocket",
			"size":     sendBufSize,
			"error":    err.Error(),
		}).Warn("Failed to set socket send buffer size")
	}

	s := &asyncUDPSocket{
		conn:     conn,
		loop:     loop,
		incoming: make(chan inboundDatagram, 64),
	}
	go s.readLoop()

	logrus.WithFields(logrus.Fields{
		"function":   "bindUDPSocket",
		"local_addr": conn.LocalAddr().String(),
	}).Debug("UDP socket bound")

	return s, nil
}

// readLoop blocks on the kernel socket and queues datagrams. On a read error
// it delivers the error as the final queue entry and exits; the endpoint
// treats socket errors as fatal, so there is nothing to resume.
func (s *asyncUDPSocket) readLoop() {
	for {
		buf := make([]byte, maxDatagramSize)
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.incoming <- inboundDatagram{err: err}
			close(s.incoming)
			return
		}
		s.incoming <- inboundDatagram{data: buf[:n], peer: peer}
	}
}

func (s *asyncUDPSocket) RecvFrom(buf []byte, complete func(ReadResult)) (ReadResult, bool) {
	select {
	case in, ok := <-s.incoming:
		return consumeDatagram(in, ok, buf), false
	default:
	}

	// Nothing queued: hand off to a waiter that posts the completion back
	// onto the run loop once the reader delivers the next datagram.
	go func() {
		in, ok := <-s.incoming
		res := consumeDatagram(in, ok, buf)
		_ = s.loop.Post(func() { complete(res) })
	}()
	return ReadResult{}, true
}

func consumeDatagram(in inboundDatagram, ok bool, buf []byte) ReadResult {
	if !ok {
		return ReadResult{Err: ErrSocketClosed}
	}
	if in.err != nil {
		return ReadResult{Err: in.err}
	}
	return ReadResult{N: copy(buf, in.data), Peer: in.peer}
}

func (s *asyncUDPSocket) WriteTo(data []byte, peer *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(data, peer)
}

func (s *asyncUDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. Idempotent; the reader goroutine exits on the
// resulting read error.
func (s *asyncUDPSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
