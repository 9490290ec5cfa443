package sender

import (
	"fmt"

	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/fec"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/packet"
)

// FECWriter groups outgoing source packets into fixed-size blocks,
// stamps each with a source payload ID footer, and once a block is
// full, computes repair symbols and emits them as repair packets on a
// separate writer (spec.md §4.2/§6: the repair stream is a distinct
// port, never interleaved into the source stream).
type FECWriter struct {
	scheme   fecproto.Scheme
	encoder  fec.Encoder
	pool     *bufpool.Pool
	ssrc     uint32
	k, r     int
	sourceW  Writer
	repairW  Writer
	sbn      uint32
	blockBuf []*packet.Packet
	filled   int
}

// NewFECWriter builds an FEC writer for blocks of k source / r repair
// symbols belonging to session ssrc, emitting stamped source packets
// to sourceW and generated repair packets to repairW.
func NewFECWriter(scheme fecproto.Scheme, encoder fec.Encoder, pool *bufpool.Pool, ssrc uint32, k, r int, sourceW, repairW Writer) *FECWriter {
	return &FECWriter{
		scheme:   scheme,
		encoder:  encoder,
		pool:     pool,
		ssrc:     ssrc,
		k:        k,
		r:        r,
		sourceW:  sourceW,
		repairW:  repairW,
		blockBuf: make([]*packet.Packet, 0, k),
	}
}

// Write stamps p with a source payload ID footer for the current
// block, forwards it immediately to sourceW (source packets are never
// delayed waiting for their block to fill — only the repair symbols
// lag behind), and keeps a reference to the stamped packet for repair
// computation once the block is complete.
func (w *FECWriter) Write(p *packet.Packet) error {
	esi := uint32(w.filled)
	footer := fecproto.EncodeSource(w.scheme, nil, w.sbn, esi, uint32(w.k))

	stamped := w.appendFooter(p, footer)
	stamped.FECSource = packet.FECSourceView{SBN: w.sbn, ESI: esi, K: uint32(w.k)}
	stamped.Flags |= packet.FlagFECSource
	stamped.MarkComposed()

	w.blockBuf = append(w.blockBuf, stamped)
	w.filled++

	stamped.Retain()
	if err := w.sourceW.Write(stamped); err != nil {
		return fmt.Errorf("sender: fec writer forward source: %w", err)
	}

	if w.filled < w.k {
		return nil
	}
	return w.emitRepair()
}

// appendFooter copies p's bytes plus footer into a fresh pooled
// buffer, wraps it in a new *packet.Packet that shares p's parsed
// views, and releases the caller's reference to p (Write is always
// called with ownership transferred in).
func (w *FECWriter) appendFooter(p *packet.Packet, footer []byte) *packet.Packet {
	src := p.Bytes()
	buf := w.pool.Acquire(len(src) + len(footer))
	out := buf.Bytes()
	copy(out, src)
	copy(out[len(src):], footer)

	np := packet.New(buf)
	np.Flags = p.Flags
	np.RTP = p.RTP
	np.UDP = p.UDP
	p.Release()
	return np
}

// emitRepair computes this block's repair symbols over each buffered
// packet's full Payload() (audio bytes plus source footer). Both
// codecs operate byte-position-independently (RS is a per-column
// Vandermonde multiply; the staircase code is a per-position XOR), so
// a receiver that only ever inspects the shared audio-length prefix of
// every symbol recovers correct audio regardless of the footer tail
// riding along underneath — see FECReader.AcceptSource's symbol trim.
func (w *FECWriter) emitRepair() error {
	symbols := make([][]byte, w.k)
	for i, pkt := range w.blockBuf {
		symbols[i] = pkt.Payload()
	}
	maxLen := 0
	for _, s := range symbols {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for i, s := range symbols {
		if len(s) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, s)
			symbols[i] = padded
		}
	}

	repair, err := w.encoder.Repair(symbols)
	if err != nil {
		return fmt.Errorf("sender: fec repair: %w", err)
	}

	for esi, sym := range repair {
		// The repair payload ID is a fixed-size header here (not a
		// footer): repair packets have no RTP header to follow, so
		// this is the only leading framing a receiver can rely on to
		// locate the symbol boundary.
		footer := fecproto.EncodeRepair(w.scheme, w.ssrc, w.sbn, uint32(esi), uint32(w.k), uint32(w.k+w.r))
		buf := w.pool.Acquire(len(footer) + len(sym))
		out := buf.Bytes()
		copy(out, footer)
		copy(out[len(footer):], sym)

		rp := packet.New(buf)
		rp.Flags |= packet.FlagUDP | packet.FlagFECRepair
		rp.FECRepair = packet.FECRepairView{SSRC: w.ssrc, SBN: w.sbn, ESI: uint32(esi), K: uint32(w.k), N: uint32(w.k + w.r)}
		rp.MarkComposed()

		if err := w.repairW.Write(rp); err != nil {
			return fmt.Errorf("sender: fec writer forward repair: %w", err)
		}
	}

	for _, pkt := range w.blockBuf {
		pkt.Release()
	}
	w.blockBuf = w.blockBuf[:0]
	w.filled = 0
	w.sbn++
	return nil
}
