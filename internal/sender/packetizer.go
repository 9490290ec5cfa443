// Package sender implements spec.md §4.2's send pipeline: packetizer,
// optional interleaver, optional FEC writer, and port composer, wired
// together by Pipeline and clock-paced off the peer's capture device.
package sender

import (
	"fmt"
	"math"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// Packetizer converts fixed-size audio frames into RTP packets
// carrying raw 32-bit float PCM payload, advancing its own sequence
// number and RTP timestamp each call. One Packetizer exists per
// sender session (one SSRC).
type Packetizer struct {
	pool        *bufpool.Pool
	ssrc        uint32
	payloadType uint8

	seq       uint16
	timestamp uint32
}

// NewPacketizer creates a packetizer for a session identified by ssrc,
// starting at the given initial sequence number and timestamp (chosen
// randomly by the caller per RFC 3550 §5.1's recommendation that both
// start unpredictable).
func NewPacketizer(pool *bufpool.Pool, ssrc uint32, payloadType uint8, startSeq uint16, startTimestamp uint32) *Packetizer {
	return &Packetizer{
		pool:        pool,
		ssrc:        ssrc,
		payloadType: payloadType,
		seq:         startSeq,
		timestamp:   startTimestamp,
	}
}

// Packetize encodes f's samples as raw big-endian float32 payload
// wrapped in an RTP packet, and
// advances the sequence number and timestamp for the next call by
// f.NumSampleFrames().
func (pz *Packetizer) Packetize(f audio.Frame) (*packet.Packet, error) {
	payload, err := encodeFloat32Payload(f)
	if err != nil {
		return nil, fmt.Errorf("sender: packetize: %w", err)
	}

	wire := rtpcodec.Compose(pz.seq, pz.timestamp, pz.ssrc, false, pz.payloadType, payload)
	buf := pz.pool.Acquire(len(wire))
	copy(buf.Bytes(), wire)

	p := packet.New(buf)
	if err := rtpcodec.Parse(p); err != nil {
		buf.Release()
		return nil, fmt.Errorf("sender: re-parse composed packet: %w", err)
	}

	pz.seq++
	pz.timestamp += uint32(f.NumSampleFrames())
	return p, nil
}

// encodeFloat32Payload serializes a Frame's interleaved samples as raw
// big-endian float32 bytes, 4 bytes per sample, per spec.md §6's wire
// format.
func encodeFloat32Payload(f audio.Frame) ([]byte, error) {
	out := make([]byte, len(f.Samples)*4)
	for i, s := range f.Samples {
		putFloat32BE(out[i*4:], s)
	}
	return out, nil
}

func putFloat32BE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits >> 24)
	b[1] = byte(bits >> 16)
	b[2] = byte(bits >> 8)
	b[3] = byte(bits)
}
