// Package transport implements the endpoint runtime that turns a bound UDP
// socket into a QUIC transport endpoint.
//
// This package owns socket lifecycle, the adaptive receive loop that feeds a
// protocol engine, and the cross-loop client construction protocol. All socket
// and engine state is affine to a single I/O run loop; nothing here takes a
// lock around that state because only the loop touches it.
//
// Example:
//
//	srv := transport.NewServer(transport.ServerConfig{
//	    Port:      4433,
//	    Engine:    eng,
//	    IOLoop:    io,
//	    EventLoop: events,
//	})
//	srv.SetVisitor(visitor)
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
package transport

import (
	"errors"
	"time"

	"github.com/opd-ai/quictransport/runloop"
)

// TaskRunner is the posting surface of a run loop. It is satisfied by
// *runloop.Loop; tests substitute manually pumped runners.
type TaskRunner interface {
	// Post queues a task for execution on the runner's goroutine.
	Post(t runloop.Task) error

	// PostDelayed queues a task after the given delay has elapsed.
	PostDelayed(t runloop.Task, d time.Duration) error
}

const (
	// maxDatagramSize bounds one inbound QUIC datagram.
	maxDatagramSize = 1452

	// readBufferSize sizes the shared receive buffer with headroom over a
	// single maximum datagram, so an oversized sender can still be
	// answered with an error instead of silently truncated state.
	readBufferSize = 16 * maxDatagramSize

	// DefaultReceiveBufferSize and DefaultSendBufferSize size the kernel
	// socket buffers for a small number of peers. Raise them through
	// ServerConfig for servers expected to carry many clients.
	DefaultReceiveBufferSize = 1 << 20
	DefaultSendBufferSize    = 320 * maxDatagramSize
)

var (
	// ErrConnectionClosed reports a zero-byte receive, which the endpoint
	// treats as the peer side of the socket having gone away.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrSocketClosed reports a receive attempted on a closed socket.
	ErrSocketClosed = errors.New("transport: socket closed")

	// ErrAlreadyStarted is returned by Start on an endpoint that has
	// already left the created state. Endpoints are not restartable.
	ErrAlreadyStarted = errors.New("transport: endpoint already started")

	// ErrNoDialer is returned by Connect on a client constructed without a
	// session dialer.
	ErrNoDialer = errors.New("transport: client has no session dialer")
)
