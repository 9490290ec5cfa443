// Package netio binds the UDP sockets of both peers. On the receive
// side, a ReadLoop goroutine per socket does nothing but move bytes,
// handing received datagrams to the pipeline over a bounded channel.
// The send side has no writer goroutine and no outbound queue: WriteTo
// writes to the socket directly on the caller's goroutine.
package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/packet"
)

// Socket wraps a bound *net.UDPConn with the bounded inbound queue and
// backpressure policy spec.md's Design Notes §9 calls for: when the
// pipeline goroutine falls behind, the oldest queued datagram is
// dropped to make room for the new one, rather than blocking the
// reader thread or blocking the network stack's receive buffer.
type Socket struct {
	conn   *net.UDPConn
	pool   *bufpool.Pool
	logger *slog.Logger

	inbound chan *packet.Packet

	mtu int

	// dropLog throttles the oldest-drop warning to at most once per
	// second; under sustained overload this would otherwise log once
	// per packet.
	dropLog rate.Sometimes
}

// Config controls a Socket's inbound queue depth and read sizing.
type Config struct {
	// QueueDepth is the inbound channel's capacity in packets.
	QueueDepth int
	// MTU bounds the largest datagram a single read will accept.
	MTU int
}

// Listen binds a UDP socket at addr and returns a Socket reading into
// a bounded channel of the given pool's buffers.
func Listen(addr string, pool *bufpool.Pool, cfg Config, logger *slog.Logger) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %q: %w", addr, err)
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1500
	}
	return &Socket{
		conn:    conn,
		pool:    pool,
		logger:  logger.With("subsystem", "netio", "local", conn.LocalAddr().String()),
		inbound: make(chan *packet.Packet, cfg.QueueDepth),
		mtu:     cfg.MTU,
		dropLog: rate.Sometimes{Interval: time.Second},
	}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close closes the underlying UDP connection. ReadLoop returns shortly
// after.
func (s *Socket) Close() error { return s.conn.Close() }

// Inbound returns the channel ReadLoop delivers received packets on.
// Every *packet.Packet arriving here is already marked FlagUDP; the
// caller owns one reference and must Release it when done.
func (s *Socket) Inbound() <-chan *packet.Packet { return s.inbound }

// ReadLoop reads datagrams until ctx is cancelled or the socket is
// closed, pushing each onto the bounded inbound channel. When the
// channel is full (the pipeline goroutine is behind), the oldest
// queued packet is dropped — drained and released — to make room for
// the newest, so the receiver always reflects the freshest arrivals
// rather than stalling on a backlog (spec.md §5's oldest-drop
// backpressure policy; see DESIGN.md for why this was chosen over
// newest-wins).
func (s *Socket) ReadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf := s.pool.Acquire(s.mtu)
		n, src, err := s.conn.ReadFromUDP(buf.Bytes())
		if err != nil {
			buf.Release()
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("read error", "error", err)
			continue
		}

		buf.Len = n
		p := packet.New(buf)
		p.Flags |= packet.FlagUDP
		p.UDP.SrcPort = uint16(src.Port)

		s.pushInbound(p)
	}
}

func (s *Socket) pushInbound(p *packet.Packet) {
	select {
	case s.inbound <- p:
		return
	default:
	}

	select {
	case old := <-s.inbound:
		old.Release()
		s.dropLog.Do(func() {
			s.logger.Warn("inbound queue full, dropping oldest packet to make room", "queue_depth", cap(s.inbound))
		})
	default:
	}

	select {
	case s.inbound <- p:
	default:
		// Another reader drained concurrently and refilled the slot
		// we just freed; drop the newest rather than block the read
		// loop indefinitely.
		p.Release()
	}
}

// WriteTo sends p's bytes to dst. The caller retains ownership of p
// and must Release it itself; WriteTo does not take a reference.
func (s *Socket) WriteTo(p *packet.Packet, dst *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(p.Bytes(), dst)
	return err
}
