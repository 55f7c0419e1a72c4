package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/quictransport/proof"
	"github.com/opd-ai/quictransport/runloop"
)

func newClientLoops(t *testing.T) (*runloop.Loop, *runloop.Loop) {
	t.Helper()
	io := runloop.New("client-test-io")
	events := runloop.New("client-test-event")
	t.Cleanup(func() {
		events.Stop()
		io.Stop()
	})
	return io, events
}

func TestConstructClientLiteralHost(t *testing.T) {
	io, events := newClientLoops(t)

	// The resolver always fails; a literal host must never consult it.
	res := &stubResolver{err: errors.New("resolver must not be called")}

	verifierBuilt := 0
	cfg := ClientConfig{
		IOLoop:    io,
		EventLoop: events,
		Resolver:  res,
		NewVerifier: func() proof.Verifier {
			verifierBuilt++
			return proof.NewInsecureVerifier()
		},
	}

	c := ConstructClient(cfg, "203.0.113.5", 443)
	require.NotNil(t, c, "construction with a literal host must succeed")

	assert.Equal(t, "203.0.113.5:443", c.PeerAddr().String())
	assert.Equal(t, 1, verifierBuilt, "verifier must be built once on the loop")
	assert.Equal(t, 0, res.calls, "literal hosts must not hit the resolver")
}

func TestConstructClientResolvesHostname(t *testing.T) {
	io, events := newClientLoops(t)

	res := &stubResolver{addrs: []net.IP{net.IPv4(198, 51, 100, 7)}}
	cfg := ClientConfig{IOLoop: io, EventLoop: events, Resolver: res}

	c := ConstructClient(cfg, "transport.example.org", 4433)
	require.NotNil(t, c)

	assert.Equal(t, "198.51.100.7:4433", c.PeerAddr().String())
	assert.Equal(t, 1, res.calls)
}

func TestConstructClientResolutionFailureReturnsNil(t *testing.T) {
	io, events := newClientLoops(t)

	cfg := ClientConfig{
		IOLoop:    io,
		EventLoop: events,
		Resolver:  &stubResolver{err: errors.New("no such host")},
	}

	// Guard against the construction protocol hanging the caller: the
	// reply must arrive even on the failure path.
	done := make(chan *Client, 1)
	go func() {
		done <- ConstructClient(cfg, "nonexistent.invalid", 443)
	}()

	select {
	case c := <-done:
		assert.Nil(t, c, "resolution failure must yield a nil client")
	case <-time.After(5 * time.Second):
		t.Fatal("ConstructClient hung on resolution failure")
	}
}

func TestConstructClientEmptyResolutionReturnsNil(t *testing.T) {
	io, events := newClientLoops(t)

	cfg := ClientConfig{
		IOLoop:    io,
		EventLoop: events,
		Resolver:  &stubResolver{addrs: nil},
	}

	c := ConstructClient(cfg, "empty.example.org", 443)
	assert.Nil(t, c)
}

func TestClientConnectAndStop(t *testing.T) {
	io, events := newClientLoops(t)

	sess := &stubSession{remote: testPeer()}
	dialer := &stubDialer{sess: sess}

	cfg := ClientConfig{
		IOLoop:    io,
		EventLoop: events,
		Resolver:  &stubResolver{},
		NewDialer: func(v proof.Verifier, host string, port int) SessionDialer {
			return dialer
		},
	}

	c := ConstructClient(cfg, "203.0.113.9", 7000)
	require.NotNil(t, c)

	got, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Same(t, sess, c.Session())

	c.Stop()
	c.Stop()
	assert.Equal(t, 1, sess.closes, "Stop must close the session exactly once")
	assert.Nil(t, c.Session())
}

func TestClientConnectWithoutDialer(t *testing.T) {
	io, events := newClientLoops(t)

	cfg := ClientConfig{IOLoop: io, EventLoop: events, Resolver: &stubResolver{}}
	c := ConstructClient(cfg, "203.0.113.9", 7000)
	require.NotNil(t, c)

	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoDialer)
}

func TestConstructClientAfterRuntimeStopped(t *testing.T) {
	io := runloop.New("client-test-io")
	events := runloop.New("client-test-event")
	events.Stop()
	io.Stop()

	cfg := ClientConfig{IOLoop: io, EventLoop: events, Resolver: &stubResolver{}}
	c := ConstructClient(cfg, "203.0.113.9", 7000)
	assert.Nil(t, c, "construction against a stopped runtime must fail, not hang")
}
