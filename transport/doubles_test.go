package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/quictransport/engine"
	"github.com/opd-ai/quictransport/runloop"
)

// manualRunner is a TaskRunner pumped explicitly by tests, so loop scheduling
// becomes deterministic and single-threaded.
type manualRunner struct {
	mu    sync.Mutex
	queue []runloop.Task
}

func (r *manualRunner) Post(t runloop.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, t)
	return nil
}

func (r *manualRunner) PostDelayed(t runloop.Task, d time.Duration) error {
	return r.Post(t)
}

// pending reports how many tasks are queued.
func (r *manualRunner) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// pumpOne runs exactly one queued task, if any.
func (r *manualRunner) pumpOne() bool {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return false
	}
	t := r.queue[0]
	r.queue = r.queue[1:]
	r.mu.Unlock()
	t()
	return true
}

// pump runs tasks until the queue drains, including tasks posted while
// pumping.
func (r *manualRunner) pump() int {
	n := 0
	for r.pumpOne() {
		n++
	}
	return n
}

type stubRead struct {
	data []byte
	peer *net.UDPAddr
	err  error
}

// stubSocket serves a scripted sequence of synchronous reads, then reports
// pending and captures the completion callback.
type stubSocket struct {
	reads        []stubRead
	recvCalls    int
	pendingCalls int
	pendingCB    func(ReadResult)
	writes       [][]byte
	closes       int
	local        *net.UDPAddr
}

func newStubSocket(reads ...stubRead) *stubSocket {
	return &stubSocket{
		reads: reads,
		local: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433},
	}
}

func (s *stubSocket) RecvFrom(buf []byte, complete func(ReadResult)) (ReadResult, bool) {
	s.recvCalls++
	if len(s.reads) > 0 {
		r := s.reads[0]
		s.reads = s.reads[1:]
		if r.err != nil {
			return ReadResult{Err: r.err}, false
		}
		return ReadResult{N: copy(buf, r.data), Peer: r.peer}, false
	}
	s.pendingCalls++
	s.pendingCB = complete
	return ReadResult{}, true
}

func (s *stubSocket) WriteTo(data []byte, peer *net.UDPAddr) (int, error) {
	cp := append([]byte(nil), data...)
	s.writes = append(s.writes, cp)
	return len(data), nil
}

func (s *stubSocket) LocalAddr() *net.UDPAddr { return s.local }

func (s *stubSocket) Close() error {
	s.closes++
	return nil
}

type processedPacket struct {
	peer *net.UDPAddr
	size int
	at   time.Time
}

// stubEngine records everything the endpoint feeds it and can simulate a
// buffered-handshake backlog.
type stubEngine struct {
	writer        engine.PacketWriter
	packets       []processedPacket
	bufferedCalls []int
	chlosBuffered bool
	shutdowns     int
}

func (e *stubEngine) InitializeWithWriter(w engine.PacketWriter) { e.writer = w }

func (e *stubEngine) ProcessPacket(local, peer *net.UDPAddr, pkt *engine.ReceivedPacket) {
	e.packets = append(e.packets, processedPacket{
		peer: peer,
		size: len(pkt.Data),
		at:   pkt.ReceivedAt,
	})
}

func (e *stubEngine) ProcessBufferedChlos(max int) {
	e.bufferedCalls = append(e.bufferedCalls, max)
}

func (e *stubEngine) HasChlosBuffered() bool { return e.chlosBuffered }

func (e *stubEngine) Shutdown() { e.shutdowns++ }

// stubSession is a minimal engine.Session.
type stubSession struct {
	remote *net.UDPAddr
	closes int
}

func (s *stubSession) RemoteAddr() net.Addr { return s.remote }

func (s *stubSession) CloseWithError(code uint64, reason string) error {
	s.closes++
	return nil
}

// stubDialer returns a scripted session or error.
type stubDialer struct {
	sess  engine.Session
	err   error
	calls int
}

func (d *stubDialer) Dial(ctx context.Context, peer *net.UDPAddr) (engine.Session, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

// stubResolver serves a fixed answer or error and counts lookups.
type stubResolver struct {
	addrs []net.IP
	err   error
	calls int
}

func (r *stubResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs, nil
}
