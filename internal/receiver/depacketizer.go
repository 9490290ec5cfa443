package receiver

import (
	"math"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// Depacketizer converts an in-order stream of source packets (as
// drained from a ReorderQueue) into audio Frames, tracking the RTP
// timestamp it expects the next packet to carry. A gap between the
// expected and actual timestamp is filled with silence; a packet
// older than expected (a duplicate, or one that arrived too late for
// the reorder queue to have caught) is dropped.
type Depacketizer struct {
	mask         audio.ChannelMask
	frameSamples uint32

	haveExpected  bool
	expectedTS    uint32
	lastSSRC      uint32
}

// NewDepacketizer builds a depacketizer for a session whose packets
// carry frameSamples sample-frames of audio in the given channel
// layout.
func NewDepacketizer(mask audio.ChannelMask, frameSamples uint32) *Depacketizer {
	return &Depacketizer{mask: mask, frameSamples: frameSamples}
}

// Feed decodes p's payload into a Frame. It returns ok=false (and
// releases p) for a stale duplicate. A forward gap is reported via
// frames[0] being silence sized to the gap, followed by the decoded
// frame in frames[1], so callers can push both onto the delayed reader
// in order.
func (d *Depacketizer) Feed(p *packet.Packet) (frames []audio.Frame, ok bool) {
	defer p.Release()

	if d.haveExpected && p.RTP.SSRC == d.lastSSRC && rtpcodec.TimestampGreater(d.expectedTS, p.RTP.Timestamp) {
		return nil, false
	}

	var out []audio.Frame
	if d.haveExpected && p.RTP.SSRC == d.lastSSRC {
		gapTicks := rtpcodec.TimestampDiff(p.RTP.Timestamp, d.expectedTS)
		if gapTicks > 0 {
			gapFrames := int(gapTicks) / int(d.frameSamples)
			if gapFrames > 0 {
				out = append(out, audio.NewSilentFrame(gapFrames*int(d.frameSamples), d.mask))
			}
		}
	}

	out = append(out, decodeFloat32Payload(p.Payload(), d.mask))

	d.expectedTS = p.RTP.Timestamp + d.frameSamples
	d.lastSSRC = p.RTP.SSRC
	d.haveExpected = true

	return out, true
}

func decodeFloat32Payload(payload []byte, mask audio.ChannelMask) audio.Frame {
	n := len(payload) / 4
	samples := make([]audio.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = getFloat32BE(payload[i*4:])
	}
	return audio.Frame{Samples: samples, Mask: mask}
}

// getFloat32BE decodes a big-endian float32, per spec.md §6's wire format.
func getFloat32BE(b []byte) float32 {
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return math.Float32frombits(bits)
}
