package receiver

import (
	"fmt"

	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/fec"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/pulseerr"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// blockHeader records the RTP identity of a source block, derived
// from the first real source packet seen for it: the FEC repair
// symbols protect only payload bytes (spec.md §4.2), so a
// reconstructed source packet's sequence number and timestamp are
// recovered arithmetically from this base plus the symbol's ESI,
// rather than from the repair symbol itself.
type blockHeader struct {
	ssrc          uint32
	payloadType   uint8
	baseSeq       uint16
	baseTimestamp uint32
	frameSamples  uint32
}

// FECReader reassembles source blocks from a mix of source and repair
// packets, reconstructing missing source symbols once a block becomes
// decodable (spec.md §4.3). It maintains a sliding window of at most
// windowSize concurrently-open blocks, keyed by source block number
// (SBN); a packet for a block older than the window is stale and
// dropped, and a packet for a block past the window's end advances the
// window, dropping whatever remains of the oldest open block.
type FECReader struct {
	scheme       fecproto.Scheme
	decoder      fec.Decoder
	pool         *bufpool.Pool
	k, r         int
	windowSize   int
	symbolLen    int
	frameSamples uint32

	oldestSBN uint32
	blocks    map[uint32]*fec.Block
	headers   map[uint32]*blockHeader
	lastHdr   *blockHeader
	emit      func(p *packet.Packet)
}

// NewFECReader builds a FEC reader for blocks of k source / r repair
// symbols of symbolLen payload bytes each, emitting reconstructed and
// passed-through source packets to emit in whatever order they become
// available — downstream reordering is the ReorderQueue's job, not
// this one's. frameSamples is the fixed number of sample-frames each
// source packet advances the RTP timestamp by.
func NewFECReader(scheme fecproto.Scheme, decoder fec.Decoder, pool *bufpool.Pool, k, r, windowSize, symbolLen int, frameSamples uint32, emit func(p *packet.Packet)) *FECReader {
	return &FECReader{
		scheme:       scheme,
		decoder:      decoder,
		pool:         pool,
		k:            k,
		r:            r,
		windowSize:   windowSize,
		symbolLen:    symbolLen,
		frameSamples: frameSamples,
		blocks:       make(map[uint32]*fec.Block),
		headers:      make(map[uint32]*blockHeader),
		emit:         emit,
	}
}

// AcceptSource ingests a source packet: parses its footer, records the
// block's RTP identity on first contact, stores the packet's payload
// bytes in its block, and forwards the packet itself downstream
// immediately (it needs no reconstruction).
func (r *FECReader) AcceptSource(p *packet.Packet) error {
	view, err := fecproto.DecodeSource(r.scheme, p.Payload())
	if err != nil {
		p.Release()
		return pulseerr.New(pulseerr.Malformed, fmt.Errorf("receiver: fec reader: %w", err))
	}
	p.FECSource = view
	p.Flags |= packet.FlagFECSource

	if !r.admit(view.SBN) {
		p.Release()
		return nil
	}

	hdr := r.headerFor(view.SBN)
	if hdr.baseSeq == 0 && hdr.baseTimestamp == 0 && hdr.ssrc == 0 {
		*hdr = blockHeader{
			ssrc:          p.RTP.SSRC,
			payloadType:   p.RTP.PayloadType,
			baseSeq:       p.RTP.SequenceNumber - uint16(view.ESI),
			baseTimestamp: p.RTP.Timestamp - view.ESI*r.frameSamples,
			frameSamples:  r.frameSamples,
		}
		r.lastHdr = hdr
	}

	blk := r.blockFor(view.SBN)
	footerLen := fecproto.SourceFooterLen(r.scheme)
	payload := p.Payload()
	symbol := payload[:len(payload)-footerLen]
	blk.Put(int(view.ESI), symbol)

	// Trim the footer from the packet itself, not just the symbol copy
	// stored above: this packet is forwarded downstream as-is, and the
	// depacketizer must see only audio payload bytes (spec.md §6's
	// footer is sender/FEC-reader-internal framing, never part of the
	// decoded frame).
	p.Buf.Len -= footerLen

	r.emit(p)
	return nil
}

// AcceptRepair ingests a repair packet: parses its footer and stores
// its symbol in its block, reconstructing and emitting any
// still-missing source symbols if the block has just become
// decodable.
func (r *FECReader) AcceptRepair(p *packet.Packet) error {
	defer p.Release()

	view, err := fecproto.DecodeRepair(r.scheme, p.Bytes())
	if err != nil {
		return pulseerr.New(pulseerr.Malformed, fmt.Errorf("receiver: fec reader: %w", err))
	}

	if !r.admit(view.SBN) {
		return nil
	}

	blk := r.blockFor(view.SBN)
	headerLen := fecproto.RepairFooterLen(r.scheme)
	sym := p.Bytes()[headerLen:]
	blk.Put(r.k+int(view.ESI), sym)

	if blk.Decodable() && blk.SourceCount() < blk.K {
		before := make([]bool, blk.K)
		copy(before, blk.Present[:blk.K])

		if err := r.decoder.Reconstruct(blk); err != nil {
			return pulseerr.New(pulseerr.Exhausted, fmt.Errorf("receiver: fec reconstruct sbn=%d: %w", view.SBN, err))
		}
		r.emitReconstructed(view.SBN, blk, before)
	}
	return nil
}

// admit reports whether sbn falls within the current window,
// advancing the window (and dropping the oldest block) if sbn is
// ahead of it. Returns false if sbn is stale (behind the window).
func (r *FECReader) admit(sbn uint32) bool {
	if len(r.blocks) == 0 {
		r.oldestSBN = sbn
	}
	diff := int32(sbn - r.oldestSBN)
	if diff < 0 {
		return false
	}
	for diff >= int32(r.windowSize) {
		delete(r.blocks, r.oldestSBN)
		delete(r.headers, r.oldestSBN)
		r.oldestSBN++
		diff--
	}
	return true
}

func (r *FECReader) blockFor(sbn uint32) *fec.Block {
	blk, ok := r.blocks[sbn]
	if !ok {
		blk = fec.NewBlock(sbn, r.k, r.r, r.symbolLen)
		r.blocks[sbn] = blk
	}
	return blk
}

func (r *FECReader) headerFor(sbn uint32) *blockHeader {
	hdr, ok := r.headers[sbn]
	if !ok {
		hdr = &blockHeader{}
		r.headers[sbn] = hdr
	}
	return hdr
}

// emitReconstructed synthesizes and emits packets for every source
// index that was absent before Reconstruct ran. If no real source
// packet of this block was ever seen, the block's header identity is
// extrapolated from the last known block's base (continuity
// assumption: consecutive blocks are K packets and K*frameSamples
// timestamp ticks apart) — a best-effort fallback for the pathological
// case of losing an entire block's source packets.
func (r *FECReader) emitReconstructed(sbn uint32, blk *fec.Block, wasAbsent []bool) {
	hdr := r.headers[sbn]
	if hdr == nil || (hdr.ssrc == 0 && hdr.baseSeq == 0 && hdr.baseTimestamp == 0) {
		if r.lastHdr == nil {
			return
		}
		// Fallback assumes this block immediately follows the last one
		// whose header identity is known, which holds for the common
		// single-block-loss case this path exists for.
		hdr = &blockHeader{
			ssrc:          r.lastHdr.ssrc,
			payloadType:   r.lastHdr.payloadType,
			baseSeq:       r.lastHdr.baseSeq + uint16(r.k),
			baseTimestamp: r.lastHdr.baseTimestamp + uint32(r.k)*r.frameSamples,
			frameSamples:  r.frameSamples,
		}
	}

	for esi := 0; esi < blk.K; esi++ {
		if !wasAbsent[esi] {
			continue
		}
		seq := hdr.baseSeq + uint16(esi)
		ts := hdr.baseTimestamp + uint32(esi)*r.frameSamples

		wire := rtpcodec.Compose(seq, ts, hdr.ssrc, false, hdr.payloadType, blk.Symbols[esi])
		buf := r.pool.Acquire(len(wire))
		copy(buf.Bytes(), wire)

		p := packet.New(buf)
		if err := rtpcodec.Parse(p); err != nil {
			buf.Release()
			continue
		}
		p.FECSource = packet.FECSourceView{SBN: sbn, ESI: uint32(esi), K: uint32(blk.K)}
		p.Flags |= packet.FlagFECSource
		r.emit(p)
	}
}
