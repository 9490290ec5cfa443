// Package packet implements the handle-based packet model called for
// by spec.md's Design Notes §9: a Packet is a flat struct carrying a
// flags bitmask and a set of optional header *views* rather than a
// polymorphic parser chain or an intrusive linked-list node. Each
// pipeline stage that recognizes a header sets the corresponding flag
// and populates the corresponding view; later stages test flags rather
// than type-switch on a parser interface.
package packet

import (
	"github.com/pulsewire/pulsewire/internal/bufpool"
)

// Flags records which header views have been parsed (or synthesized)
// for a Packet, and which protective invariants have been locked in.
type Flags uint32

const (
	// FlagUDP is set once the UDP source/destination are known (always
	// true for packets that arrived off the wire or are about to go on
	// it).
	FlagUDP Flags = 1 << iota
	// FlagRTP is set once RTP has parsed its header into RTPView.
	FlagRTP
	// FlagFECSource is set when the packet carries a source-block FEC
	// footer (LDPC Source Payload ID / RS-m8 source footer).
	FlagFECSource
	// FlagFECRepair is set when the packet is itself a FEC repair
	// symbol, carrying a Repair Payload ID footer instead of an RTP
	// header.
	FlagFECRepair
	// FlagAudio is set once the payload's sample data has been located
	// (post-RTP-header, pre-FEC-footer).
	FlagAudio
	// FlagComposed is set once every stage that will ever modify this
	// packet's bytes has finished: after this flag is set, the bytes
	// backing the packet are immutable for the remainder of its
	// lifetime (spec.md §3: "no stage mutates a packet after its
	// Composed flag is set").
	FlagComposed
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// UDPView records the minimal UDP 4-tuple fields a Packet needs.
type UDPView struct {
	SrcPort uint16
	DstPort uint16
}

// RTPView is a parsed view over an RTP fixed header (RFC 3550 §5.1),
// populated by internal/rtpcodec. Fields mirror pion/rtp's Header but
// are copied into the view rather than holding a *rtp.Header, so later
// stages depend only on this package, not on the codec's own types.
type RTPView struct {
	Version        uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	// PayloadOffset is the byte offset into the packet's buffer where
	// the RTP payload begins (after the fixed header and any CSRC
	// list/extension).
	PayloadOffset int
}

// FECSourceView is the parsed LDPC/RS source payload ID footer: which
// block (SBN) and symbol-within-block (ESI) this source packet
// belongs to, and the block's source symbol count (K).
type FECSourceView struct {
	SBN uint32
	ESI uint32
	K   uint32
}

// FECRepairView is the parsed repair payload ID footer: SBN/ESI as
// above, K (source symbol count, always equal to the sibling source
// block's K — never the encoded total) and N (total encoded symbols:
// K source + number of repair symbols generated for the block). SSRC
// identifies which source session's block this repair symbol belongs
// to — repair packets carry no RTP header of their own, so this is the
// only demultiplexing key available on the repair port.
type FECRepairView struct {
	SSRC uint32
	SBN  uint32
	ESI  uint32
	K    uint32
	N    uint32
}

// Packet is the single mutable unit of work for both peers: a
// reference-counted buffer plus whichever header views have been
// populated. Stages pass *Packet by pointer through channels and
// queues; the last stage to drop its reference releases the backing
// Buffer.
type Packet struct {
	Buf   *bufpool.Buffer
	Flags Flags

	UDP       UDPView
	RTP       RTPView
	FECSource FECSourceView
	FECRepair FECRepairView

	// Arrival is a receive timestamp in nanoseconds. No stage in
	// this module sets it (internal/netio's ReadLoop included), so
	// it is zero unless a caller fills it in.
	Arrival int64
}

// New wraps buf in a fresh Packet with no flags set.
func New(buf *bufpool.Buffer) *Packet {
	return &Packet{Buf: buf}
}

// Retain increments the backing buffer's reference count. Call this
// whenever a stage begins to hold this *Packet in a queue of its own
// beyond the call that handed it the packet.
func (p *Packet) Retain() { p.Buf.Retain() }

// Release decrements the backing buffer's reference count, returning
// it to its pool once no stage holds it any longer.
func (p *Packet) Release() { p.Buf.Release() }

// Bytes returns the packet's wire bytes.
func (p *Packet) Bytes() []byte { return p.Buf.Bytes() }

// Payload returns the bytes from RTPView.PayloadOffset to the end of
// the buffer. It panics if FlagRTP has not been set, since the offset
// is meaningless before the RTP header has been parsed.
func (p *Packet) Payload() []byte {
	if !p.Flags.Has(FlagRTP) {
		panic("packet: Payload called before RTP header parsed")
	}
	return p.Bytes()[p.RTP.PayloadOffset:]
}

// MarkComposed sets FlagComposed. Call sites that subsequently write
// to p.Bytes() after this is set indicate a bug in the calling stage;
// nothing in this package enforces the invariant at runtime (that cost
// is not worth paying on the hot path), but tests exercise it.
func (p *Packet) MarkComposed() { p.Flags |= FlagComposed }
