package transport

import (
	"net"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/quictransport/engine"
)

// State is the lifecycle state of a server endpoint. Endpoints move from
// StateCreated through StateStarted to StateStopped and never back.
type State uint32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

// String returns a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// bufferedChlosPerPass caps how many parked client hellos the engine
	// may resume in one receive-loop pass.
	bufferedChlosPerPass = 16

	// maxInlineReads caps how many synchronously completed receives are
	// handled back to back before the loop yields through the task queue.
	maxInlineReads = 32
)

// ServerConfig assembles a server endpoint. Engine, IOLoop and EventLoop are
// required; the rest defaults sensibly.
type ServerConfig struct {
	// Port is the UDP port the endpoint binds on (wildcard address).
	Port int

	// Engine receives every datagram the endpoint reads.
	Engine engine.Engine

	// IOLoop runs all socket and engine work; EventLoop services the
	// engine's timer and alarm callbacks.
	IOLoop    TaskRunner
	EventLoop TaskRunner

	// Clock stamps received datagrams. Defaults to the wall clock; tests
	// inject a mock.
	Clock clock.Clock

	// ReceiveBufferSize and SendBufferSize configure the kernel socket
	// buffers. Zero selects the defaults sized for a few peers.
	ReceiveBufferSize int
	SendBufferSize    int

	// Socket, when set, is used instead of binding a fresh UDP socket.
	// Used by tests and tools that prepare their own socket.
	Socket PacketSocket
}

// Server is a QUIC server endpoint: one bound UDP socket pumped into a
// protocol engine by the adaptive receive loop.
//
// Start and Stop may be called from any goroutine. Everything else lives on
// the I/O loop.
type Server struct {
	port        int
	eng         engine.Engine
	ioLoop      TaskRunner
	eventLoop   TaskRunner
	clk         clock.Clock
	recvBufSize int
	sendBufSize int
	presetSock  PacketSocket

	state     atomic.Uint32
	localAddr atomic.Pointer[net.UDPAddr]
	visitor   engine.Visitor

	// I/O-loop-affine state.
	sock        PacketSocket
	buf         []byte
	peerAddr    *net.UDPAddr
	readPending bool
	inlineReads int
}

// NewServer creates an unstarted server endpoint.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ReceiveBufferSize == 0 {
		cfg.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if cfg.SendBufferSize == 0 {
		cfg.SendBufferSize = DefaultSendBufferSize
	}

	return &Server{
		port:        cfg.Port,
		eng:         cfg.Engine,
		ioLoop:      cfg.IOLoop,
		eventLoop:   cfg.EventLoop,
		clk:         cfg.Clock,
		recvBufSize: cfg.ReceiveBufferSize,
		sendBufSize: cfg.SendBufferSize,
		presetSock:  cfg.Socket,
	}
}

// SetVisitor registers the session visitor. Must be called exactly once,
// before Start; the visitor is invoked on the I/O loop.
func (s *Server) SetVisitor(v engine.Visitor) {
	if State(s.state.Load()) != StateCreated {
		logrus.WithField("function", "Server.SetVisitor").
			Warn("Visitor set after endpoint start is ignored")
		return
	}
	s.visitor = v
}

// State returns the endpoint's lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// LocalAddr returns the bound local address, or nil before the endpoint has
// finished starting on the I/O loop.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.localAddr.Load()
}

// Start posts endpoint initialization to the I/O loop and returns without
// blocking. A started endpoint cannot be started again.
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(uint32(StateCreated), uint32(StateStarted)) {
		return ErrAlreadyStarted
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"port":     s.port,
	}).Info("Starting server endpoint")

	return s.ioLoop.Post(s.startOnLoop)
}

// Stop shuts the engine down, giving in-flight sessions a chance to notify
// their peers, then releases the socket. Idempotent, and a no-op when no
// socket is held.
func (s *Server) Stop() {
	if State(s.state.Swap(uint32(StateStopped))) == StateStopped {
		return
	}
	_ = s.ioLoop.Post(s.stopOnLoop)
}

// OnSession implements engine.Visitor by forwarding new sessions to the
// registered visitor. Runs on the I/O loop.
func (s *Server) OnSession(sess engine.Session) {
	if s.visitor == nil {
		logrus.WithField("function", "Server.OnSession").
			Debug("Session dropped: no visitor registered")
		return
	}
	s.visitor.OnSession(sess)
}

func (s *Server) startOnLoop() {
	if s.State() != StateStarted {
		// Stopped before initialization ran.
		if s.presetSock != nil {
			_ = s.presetSock.Close()
		}
		return
	}

	sock := s.presetSock
	if sock == nil {
		var err error
		sock, err = bindUDPSocket(s.port, s.recvBufSize, s.sendBufSize, s.ioLoop)
		if err != nil {
			// Soft failure: observable in logs, the endpoint stays
			// idle rather than tearing the process down.
			logrus.WithFields(logrus.Fields{
				"function": "Server.startOnLoop",
				"port":     s.port,
				"error":    err.Error(),
			}).Error("Failed to bind server socket")
			return
		}
	}

	s.sock = sock
	s.buf = make([]byte, readBufferSize)
	s.localAddr.Store(sock.LocalAddr())

	s.eng.InitializeWithWriter(newSocketWriter(sock))

	logrus.WithFields(logrus.Fields{
		"function":   "Server.startOnLoop",
		"local_addr": sock.LocalAddr().String(),
	}).Info("Server endpoint listening")

	s.startReading()
}

func (s *Server) stopOnLoop() {
	if s.sock == nil {
		return
	}

	// Engine first, so sessions get to say goodbye while the socket can
	// still carry their close frames.
	s.eng.Shutdown()

	if err := s.sock.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.stopOnLoop",
			"error":    err.Error(),
		}).Warn("Closing server socket failed")
	}
	s.sock = nil

	logrus.WithField("function", "Server.stopOnLoop").Info("Server endpoint stopped")
}

// startReading drives the receive loop until it can make no more inline
// progress: the receive went pending, the inline budget ran out, or the
// endpoint stopped. Iterative on purpose; the loop must hold its stack depth
// constant under an arbitrarily long burst of ready datagrams.
func (s *Server) startReading() {
	for s.readStep() {
	}
}

// readStep performs one pass of the receive loop and reports whether another
// pass should run inline.
func (s *Server) readStep() bool {
	if s.State() != StateStarted || s.sock == nil {
		return false
	}

	if s.inlineReads == 0 {
		// Once per loop pass: let handshakes that were parked on session
		// capacity move before the socket gets attention again.
		s.eng.ProcessBufferedChlos(bufferedChlosPerPass)
	}

	if s.readPending {
		return false
	}
	s.readPending = true

	res, pending := s.sock.RecvFrom(s.buf, s.onReadComplete)
	if pending {
		s.inlineReads = 0
		if s.eng.HasChlosBuffered() {
			// No datagram ready; yield, then drain the backlog.
			_ = s.ioLoop.Post(s.resumeReading)
		}
		return false
	}

	s.inlineReads++
	if s.inlineReads > maxInlineReads {
		// Inline budget spent: hand the completed read to the task
		// queue so other scheduled work gets a turn.
		s.inlineReads = 0
		_ = s.ioLoop.Post(func() { s.onReadComplete(res) })
		return false
	}

	return s.handleRead(res)
}

// resumeReading is the posted continuation of the receive loop. The state
// check keeps a queued continuation from running against a stopped endpoint.
func (s *Server) resumeReading() {
	if s.State() != StateStarted {
		return
	}
	s.startReading()
}

// onReadComplete finishes a receive that arrived through the task queue,
// either from the socket (pending receive) or from the inline budget check.
func (s *Server) onReadComplete(res ReadResult) {
	if s.State() != StateStarted {
		return
	}
	if s.handleRead(res) {
		s.startReading()
	}
}

// handleRead consumes one receive result and reports whether the receive loop
// should continue. Read errors are fatal to the endpoint: the socket is
// presumed broken, so it stops itself instead of retrying.
func (s *Server) handleRead(res ReadResult) bool {
	s.readPending = false

	if res.Err == nil && res.N == 0 {
		res.Err = ErrConnectionClosed
	}
	if res.Err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleRead",
			"error":    res.Err.Error(),
		}).Error("Server read failed; stopping endpoint")
		s.Stop()
		return false
	}

	s.peerAddr = res.Peer
	pkt := engine.ReceivedPacket{
		Data:       s.buf[:res.N],
		ReceivedAt: s.clk.Now(),
	}
	s.eng.ProcessPacket(s.localAddr.Load(), s.peerAddr, &pkt)

	return true
}
