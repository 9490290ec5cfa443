// Package fecproto encodes and decodes the FEC payload ID footers
// spec.md §4.2/§4.3 attaches to source and repair packets: a few bytes
// appended after the RTP payload (source packets) or in place of an
// RTP header (repair packets) identifying which block and which
// symbol within it a packet carries. Two footer layouts are supported,
// selected by the scheme in use for a session: LDPC-staircase (16-bit
// fields, matching the original LDPC Source/Repair FEC Payload ID) and
// Reed-Solomon m=8 (per RFC 6865's RS FEC Payload ID, SBN widened to
// 24 bits since RS block numbers in this system are not limited to a
// single byte).
package fecproto

import (
	"encoding/binary"
	"fmt"

	"github.com/pulsewire/pulsewire/internal/packet"
)

// Scheme identifies which FEC footer layout and encoding algebra a
// session uses. It is negotiated out of band (spec.md §6: --fec flag)
// and fixed for the lifetime of a session.
type Scheme int

const (
	// LDPCStaircase uses 2-byte SBN/ESI/K/N fields.
	LDPCStaircase Scheme = iota
	// ReedSolomonM8 uses a 3-byte SBN, 1-byte ESI, 2-byte K/N fields
	// (RFC 6865 §5.6's "FEC Payload ID" as adapted for a byte-oriented
	// systematic RS code).
	ReedSolomonM8
)

// SourceFooterLen returns the wire length in bytes of the source
// payload ID footer for scheme s.
func SourceFooterLen(s Scheme) int {
	switch s {
	case LDPCStaircase:
		return 6 // SBN(2) ESI(2) K(2)
	case ReedSolomonM8:
		return 6 // SBN(3) ESI(1) K(2)
	default:
		panic(fmt.Sprintf("fecproto: unknown scheme %d", s))
	}
}

// RepairFooterLen returns the wire length in bytes of the repair
// payload ID footer for scheme s. Every repair footer is prefixed with
// a 4-byte SSRC, since repair packets carry no RTP header to
// demultiplex by.
func RepairFooterLen(s Scheme) int {
	switch s {
	case LDPCStaircase:
		return 12 // SSRC(4) SBN(2) ESI(2) K(2) N(2)
	case ReedSolomonM8:
		return 12 // SSRC(4) SBN(3) ESI(1) K(2) N(2)
	default:
		panic(fmt.Sprintf("fecproto: unknown scheme %d", s))
	}
}

// EncodeSource appends a source payload ID footer for (sbn, esi, k) to
// buf and returns the result.
func EncodeSource(s Scheme, buf []byte, sbn, esi, k uint32) []byte {
	switch s {
	case LDPCStaircase:
		var b [6]byte
		binary.BigEndian.PutUint16(b[0:2], uint16(sbn))
		binary.BigEndian.PutUint16(b[2:4], uint16(esi))
		binary.BigEndian.PutUint16(b[4:6], uint16(k))
		return append(buf, b[:]...)
	case ReedSolomonM8:
		var b [6]byte
		putUint24(b[0:3], sbn)
		b[3] = byte(esi)
		binary.BigEndian.PutUint16(b[4:6], uint16(k))
		return append(buf, b[:]...)
	default:
		panic(fmt.Sprintf("fecproto: unknown scheme %d", s))
	}
}

// DecodeSource parses a source payload ID footer from the trailing
// SourceFooterLen(s) bytes of buf.
func DecodeSource(s Scheme, buf []byte) (packet.FECSourceView, error) {
	n := SourceFooterLen(s)
	if len(buf) < n {
		return packet.FECSourceView{}, fmt.Errorf("fecproto: source footer truncated: have %d want %d", len(buf), n)
	}
	b := buf[len(buf)-n:]
	switch s {
	case LDPCStaircase:
		return packet.FECSourceView{
			SBN: uint32(binary.BigEndian.Uint16(b[0:2])),
			ESI: uint32(binary.BigEndian.Uint16(b[2:4])),
			K:   uint32(binary.BigEndian.Uint16(b[4:6])),
		}, nil
	case ReedSolomonM8:
		return packet.FECSourceView{
			SBN: getUint24(b[0:3]),
			ESI: uint32(b[3]),
			K:   uint32(binary.BigEndian.Uint16(b[4:6])),
		}, nil
	default:
		return packet.FECSourceView{}, fmt.Errorf("fecproto: unknown scheme %d", s)
	}
}

// EncodeRepair builds a repair payload ID footer for (ssrc, sbn, esi,
// k, n). Per spec.md's repair-port semantics, k is always the sibling
// source block's source symbol count, never the total encoded symbol
// count — that total is carried separately in the n field.
func EncodeRepair(s Scheme, ssrc, sbn, esi, k, n uint32) []byte {
	switch s {
	case LDPCStaircase:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], ssrc)
		binary.BigEndian.PutUint16(b[4:6], uint16(sbn))
		binary.BigEndian.PutUint16(b[6:8], uint16(esi))
		binary.BigEndian.PutUint16(b[8:10], uint16(k))
		binary.BigEndian.PutUint16(b[10:12], uint16(n))
		return b
	case ReedSolomonM8:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], ssrc)
		putUint24(b[4:7], sbn)
		b[7] = byte(esi)
		binary.BigEndian.PutUint16(b[8:10], uint16(k))
		binary.BigEndian.PutUint16(b[10:12], uint16(n))
		return b
	default:
		panic(fmt.Sprintf("fecproto: unknown scheme %d", s))
	}
}

// DecodeRepair parses a repair payload ID, which precedes the repair
// symbol at the start of a repair packet's buffer (repair packets have
// no RTP header to follow, so this header — not a trailing footer —
// is the only framing a receiver can rely on to find the symbol
// boundary; see DESIGN.md on repair-port semantics).
func DecodeRepair(s Scheme, buf []byte) (packet.FECRepairView, error) {
	n := RepairFooterLen(s)
	if len(buf) < n {
		return packet.FECRepairView{}, fmt.Errorf("fecproto: repair footer truncated: have %d want %d", len(buf), n)
	}
	b := buf[:n]
	switch s {
	case LDPCStaircase:
		return packet.FECRepairView{
			SSRC: binary.BigEndian.Uint32(b[0:4]),
			SBN:  uint32(binary.BigEndian.Uint16(b[4:6])),
			ESI:  uint32(binary.BigEndian.Uint16(b[6:8])),
			K:    uint32(binary.BigEndian.Uint16(b[8:10])),
			N:    uint32(binary.BigEndian.Uint16(b[10:12])),
		}, nil
	case ReedSolomonM8:
		return packet.FECRepairView{
			SSRC: binary.BigEndian.Uint32(b[0:4]),
			SBN:  getUint24(b[4:7]),
			ESI:  uint32(b[7]),
			K:    uint32(binary.BigEndian.Uint16(b[8:10])),
			N:    uint32(binary.BigEndian.Uint16(b[10:12])),
		}, nil
	default:
		return packet.FECRepairView{}, fmt.Errorf("fecproto: unknown scheme %d", s)
	}
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
