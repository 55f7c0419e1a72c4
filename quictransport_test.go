package quictransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/quictransport/engine"
	"github.com/opd-ai/quictransport/proof"
)

func TestNewAcceptsNilOptions(t *testing.T) {
	f := New(nil)
	defer f.Close()

	if f.opts == nil {
		t.Fatal("runtime created without options")
	}
}

func TestNewClientLiteralHostNeedsNoNetwork(t *testing.T) {
	f := New(nil)
	defer f.Close()

	c := f.NewClient("203.0.113.5", 443)
	require.NotNil(t, c)
	assert.Equal(t, "203.0.113.5:443", c.PeerAddr().String())
}

func TestNewClientUnresolvableHostReturnsNil(t *testing.T) {
	f := New(nil)
	defer f.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// .invalid never resolves (RFC 2606).
		c := f.NewClient("nonexistent.invalid", 443)
		assert.Nil(t, c)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("NewClient hung on an unresolvable host")
	}
}

func TestServerClientSessionEstablishment(t *testing.T) {
	f := New(nil)
	defer f.Close()

	material, err := proof.EphemeralMaterial()
	require.NoError(t, err)

	srv := f.NewServer(0, material)

	sessions := make(chan engine.Session, 1)
	srv.SetVisitor(engine.VisitorFunc(func(s engine.Session) {
		select {
		case sessions <- s:
		default:
		}
	}))

	require.NoError(t, srv.Start())
	defer srv.Stop()

	require.Eventually(t, func() bool {
		addr := srv.LocalAddr()
		return addr != nil && addr.Port != 0
	}, 5*time.Second, 10*time.Millisecond, "server never bound")

	client := f.NewClient("127.0.0.1", srv.LocalAddr().Port)
	require.NotNil(t, client)
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess, err := client.Connect(ctx)
	require.NoError(t, err, "client handshake failed")
	require.NotNil(t, sess)

	select {
	case got := <-sessions:
		assert.NotNil(t, got.RemoteAddr())
	case <-time.After(15 * time.Second):
		t.Fatal("server visitor never observed the session")
	}
}
