package quicbridge

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/quictransport/engine"
	"github.com/opd-ai/quictransport/runloop"
)

func TestBridgeIgnoresPacketsAfterShutdown(t *testing.T) {
	io := runloop.New("bridge-test-io")
	events := runloop.New("bridge-test-event")
	defer events.Stop()
	defer io.Stop()

	b := New(Config{IOLoop: io, EventLoop: events})
	b.InitializeWithWriter(&captureWriter{})

	b.Shutdown()
	b.Shutdown() // idempotent

	local := feedTestAddr(4433)
	peer := feedTestAddr(50000)
	b.ProcessPacket(local, peer, &engine.ReceivedPacket{
		Data:       []byte("late datagram"),
		ReceivedAt: time.Now(),
	})

	if b.tr != nil {
		t.Error("transport started after shutdown")
	}
}

func TestBridgeReportsNoHandshakeBacklog(t *testing.T) {
	b := New(Config{})
	if b.HasChlosBuffered() {
		t.Error("HasChlosBuffered() = true, want false; quic-go owns its backlog")
	}
	// Must be callable without a started transport.
	b.ProcessBufferedChlos(16)
}

func TestBridgeStartFailureIsContained(t *testing.T) {
	io := runloop.New("bridge-test-io")
	events := runloop.New("bridge-test-event")
	defer events.Stop()
	defer io.Stop()

	// A nil TLS config makes quic-go refuse to listen; the bridge must
	// absorb that instead of panicking, and stay down.
	b := New(Config{IOLoop: io, EventLoop: events})
	b.InitializeWithWriter(&captureWriter{})

	local := &net.UDPAddr{IP: net.IPv4zero, Port: 4433}
	peer := feedTestAddr(50000)
	b.ProcessPacket(local, peer, &engine.ReceivedPacket{Data: []byte("x"), ReceivedAt: time.Now()})

	if b.tr != nil {
		t.Error("transport came up without TLS material")
	}

	b.Shutdown()
}
