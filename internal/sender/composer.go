package sender

import (
	"fmt"
	"net"

	"github.com/pulsewire/pulsewire/internal/netio"
	"github.com/pulsewire/pulsewire/internal/packet"
)

// PortComposer is the final sender stage: it writes a packet's bytes
// to the UDP socket for its stream (source or repair), to the
// session's configured remote address. This is the only stage that
// touches a socket; everything upstream only ever builds bytes.
type PortComposer struct {
	socket *netio.Socket
	remote *net.UDPAddr
}

// NewPortComposer builds a composer writing to remote over socket.
func NewPortComposer(socket *netio.Socket, remote *net.UDPAddr) *PortComposer {
	return &PortComposer{socket: socket, remote: remote}
}

// Write sends p to the configured remote address and releases the
// caller's reference to p.
func (c *PortComposer) Write(p *packet.Packet) error {
	defer p.Release()
	if err := c.socket.WriteTo(p, c.remote); err != nil {
		return fmt.Errorf("sender: port composer write: %w", err)
	}
	return nil
}
