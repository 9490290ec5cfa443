// Package rtpcodec wraps github.com/pion/rtp for the fixed-header
// encode/decode spec.md §4.1 needs, and adds the RFC 1982
// signed-difference comparison helpers the jitter buffer and FEC
// reader use for sequence number and timestamp ordering (wraparound
// aware — a plain uint16/uint32 less-than is wrong once either counter
// wraps).
package rtpcodec

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/pulsewire/pulsewire/internal/packet"
)

// Parse decodes p's buffer as an RTP packet, populating p.RTP and
// setting FlagRTP and FlagAudio. It returns an error (always
// pulseerr.Malformed-worthy; callers wrap it) if the buffer is too
// short or the header fails pion/rtp's own validity checks.
func Parse(p *packet.Packet) error {
	var hdr rtp.Header
	n, err := hdr.Unmarshal(p.Bytes())
	if err != nil {
		return fmt.Errorf("rtpcodec: parse header: %w", err)
	}

	p.RTP = packet.RTPView{
		Version:        hdr.Version,
		Marker:         hdr.Marker,
		PayloadType:    hdr.PayloadType,
		SequenceNumber: hdr.SequenceNumber,
		Timestamp:      hdr.Timestamp,
		SSRC:           hdr.SSRC,
		PayloadOffset:  n,
	}
	p.Flags |= packet.FlagRTP | packet.FlagAudio
	return nil
}

// Compose marshals an RTP fixed header (no CSRC, no extensions — the
// sender never needs either) followed by payload into a freshly
// allocated slice. Callers copy the result into a pooled buffer via
// internal/bufpool rather than have this package depend on the pool.
func Compose(seq uint16, timestamp, ssrc uint32, marker bool, payloadType uint8, payload []byte) []byte {
	hdr := rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
	hdrBytes, _ := hdr.Marshal()
	out := make([]byte, 0, len(hdrBytes)+len(payload))
	out = append(out, hdrBytes...)
	out = append(out, payload...)
	return out
}

// SeqGreater reports whether a is later than b in RTP sequence-number
// order per RFC 1982 serial arithmetic: the signed difference a-b,
// computed mod 2^16, is positive and less than half the space. Equal
// values are not greater.
func SeqGreater(a, b uint16) bool {
	return int16(a-b) > 0
}

// SeqDiff returns the signed distance from b to a in sequence-number
// space: positive when a is ahead of b, negative when behind, per RFC
// 1982. Magnitudes at or beyond 2^15 are inherently ambiguous (the
// protocol assumes consecutive packets never drift that far apart).
func SeqDiff(a, b uint16) int32 {
	return int32(int16(a - b))
}

// TimestampGreater is SeqGreater's 32-bit analogue, for RTP
// timestamp wraparound.
func TimestampGreater(a, b uint32) bool {
	return int32(a-b) > 0
}

// TimestampDiff returns the signed distance from b to a in timestamp
// space (media clock ticks), RFC 1982-style.
func TimestampDiff(a, b uint32) int64 {
	return int64(int32(a - b))
}
