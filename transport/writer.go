package transport

import (
	"fmt"
	"net"
)

// socketWriter is the outbound half handed to the protocol engine. It keeps
// the engine writing through the endpoint's socket without owning it.
type socketWriter struct {
	sock PacketSocket
}

func newSocketWriter(sock PacketSocket) *socketWriter {
	return &socketWriter{sock: sock}
}

// WritePacket sends one datagram to peer.
func (w *socketWriter) WritePacket(data []byte, peer *net.UDPAddr) error {
	if _, err := w.sock.WriteTo(data, peer); err != nil {
		return fmt.Errorf("writing packet to %s: %w", peer, err)
	}
	return nil
}
