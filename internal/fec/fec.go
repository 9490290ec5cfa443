// Package fec implements the block-FEC layer from spec.md §4.2
// (sender) and §4.3 (receiver): grouping consecutive source packets
// into fixed-size blocks, generating repair symbols for a block once
// it is full, and reconstructing a block's missing source symbols once
// enough of a block (source or repair) has arrived.
//
// Two codecs satisfy the same Encoder/Decoder interfaces:
// ReedSolomonCodec, grounded on github.com/klauspost/reedsolomon for
// genuine GF(2^8) erasure coding, and LDPCStaircaseCodec, a XOR-parity
// staircase code (see DESIGN.md: no pack library implements general
// LDPC staircase matrices, so this scheme's algebra is hand-rolled,
// same as the original project's own from-scratch LDPC implementation).
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// SBN is a source block number, modular per spec.md §4.2 (wraps per
// scheme; callers compare with signed difference, not raw ordering).
type SBN = uint32

// Block holds one source block's symbols as it is assembled, either
// for encoding (sender: all K source symbols present, building R
// repair symbols) or for decoding (receiver: some subset of K+R
// symbols present, holes recorded in Present).
type Block struct {
	SBN     SBN
	K       int // number of source symbols
	R       int // number of repair symbols
	Symbols [][]byte
	// Present marks which index in Symbols holds real data (true) vs.
	// an as-yet-unfilled placeholder (false). len(Present) == K+R.
	Present []bool
}

// NewBlock allocates a Block of k source + r repair symbol slots, each
// sized to symbolLen bytes, all initially absent.
func NewBlock(sbn SBN, k, r, symbolLen int) *Block {
	symbols := make([][]byte, k+r)
	for i := range symbols {
		symbols[i] = make([]byte, symbolLen)
	}
	return &Block{
		SBN:     sbn,
		K:       k,
		R:       r,
		Symbols: symbols,
		Present: make([]bool, k+r),
	}
}

// SourceCount returns how many of the block's source symbol slots
// (the first K of Symbols) are present.
func (b *Block) SourceCount() int {
	n := 0
	for i := 0; i < b.K; i++ {
		if b.Present[i] {
			n++
		}
	}
	return n
}

// TotalCount returns how many symbol slots overall (source + repair)
// are present.
func (b *Block) TotalCount() int {
	n := 0
	for _, p := range b.Present {
		if p {
			n++
		}
	}
	return n
}

// Decodable reports whether enough symbols are present to reconstruct
// every missing source symbol: spec.md §4.3's "a block is decodable
// once at least K of its K+R symbols, in any combination of source and
// repair, have arrived."
func (b *Block) Decodable() bool {
	return b.TotalCount() >= b.K
}

// Put stores sym at index idx (0..K-1 for source symbols, K..K+R-1 for
// repair symbols), copying into the block's pre-sized slot.
func (b *Block) Put(idx int, sym []byte) {
	copy(b.Symbols[idx], sym)
	b.Present[idx] = true
}

// Encoder generates repair symbols for a full source block.
type Encoder interface {
	// Repair computes the r repair symbols for a block whose K source
	// symbols are all present in src (each of length symbolLen,
	// zero-padded by the caller to a common length within the block).
	Repair(src [][]byte) (repair [][]byte, err error)
}

// Decoder reconstructs a block's missing source symbols in place, once
// Block.Decodable reports true.
type Decoder interface {
	// Reconstruct fills every absent source slot (index < K) of b in
	// place. Repair slots are left as-is (sender-only symbols are
	// never needed again once the source block is whole).
	Reconstruct(b *Block) error
}

// ReedSolomonCodec implements Encoder and Decoder using a systematic
// Reed-Solomon code over GF(2^8), grounded on
// github.com/klauspost/reedsolomon (the same library the retrieved
// kcptun/kcp-go FEC layer uses for its own erasure coding).
type ReedSolomonCodec struct {
	k, r int
	enc  reedsolomon.Encoder
}

// NewReedSolomonCodec builds a codec for blocks of k source and r
// repair symbols. k+r must not exceed 256 (a GF(2^8) limit the caller
// is expected to have already validated against spec.md §6's --nbsrc
// and --nbrpr flags).
func NewReedSolomonCodec(k, r int) (*ReedSolomonCodec, error) {
	enc, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, fmt.Errorf("fec: reedsolomon.New(%d,%d): %w", k, r, err)
	}
	return &ReedSolomonCodec{k: k, r: r, enc: enc}, nil
}

func (c *ReedSolomonCodec) Repair(src [][]byte) ([][]byte, error) {
	if len(src) != c.k {
		return nil, fmt.Errorf("fec: Repair given %d source symbols, codec built for %d", len(src), c.k)
	}
	shards := make([][]byte, c.k+c.r)
	copy(shards, src)
	for i := c.k; i < c.k+c.r; i++ {
		shards[i] = make([]byte, len(src[0]))
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: rs encode: %w", err)
	}
	return shards[c.k:], nil
}

func (c *ReedSolomonCodec) Reconstruct(b *Block) error {
	shards := make([][]byte, len(b.Symbols))
	for i, present := range b.Present {
		if present {
			shards[i] = b.Symbols[i]
		}
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("fec: rs reconstruct: %w", err)
	}
	for i := 0; i < b.K; i++ {
		if !b.Present[i] {
			copy(b.Symbols[i], shards[i])
			b.Present[i] = true
		}
	}
	return nil
}

// LDPCStaircaseCodec implements an XOR-parity staircase code with r
// repair symbols: repair symbol j is the XOR of the source symbols in
// its window, the windows stepping across the block one after another
// (the "staircase" structure; adjacent windows overlap only when k is
// not a multiple of r). This
// recovers at most r erasures when the erasures are suitably
// distributed across windows, which is weaker than a true LDPC
// belief-propagation decode over a sparse parity-check matrix — see
// DESIGN.md for why no pack library offered the latter.
type LDPCStaircaseCodec struct {
	k, r int
}

// NewLDPCStaircaseCodec builds a codec for blocks of k source and r
// repair symbols.
func NewLDPCStaircaseCodec(k, r int) *LDPCStaircaseCodec {
	return &LDPCStaircaseCodec{k: k, r: r}
}

// window returns the half-open [lo, hi) range of source indices that
// repair symbol j covers, staggered across the block so consecutive
// repair symbols protect shifted spans of ceil(k/r) symbols.
func (c *LDPCStaircaseCodec) window(j int) (lo, hi int) {
	span := c.k
	if c.r > 0 {
		span = (c.k + c.r - 1) / c.r
		if span < 1 {
			span = 1
		}
	}
	lo = (j * c.k) / max(c.r, 1)
	hi = lo + span
	if hi > c.k {
		hi = c.k
	}
	return lo, hi
}

func (c *LDPCStaircaseCodec) Repair(src [][]byte) ([][]byte, error) {
	if len(src) != c.k {
		return nil, fmt.Errorf("fec: Repair given %d source symbols, codec built for %d", len(src), c.k)
	}
	symLen := len(src[0])
	repair := make([][]byte, c.r)
	for j := 0; j < c.r; j++ {
		p := make([]byte, symLen)
		lo, hi := c.window(j)
		for i := lo; i < hi; i++ {
			xorInto(p, src[i])
		}
		repair[j] = p
	}
	return repair, nil
}

func (c *LDPCStaircaseCodec) Reconstruct(b *Block) error {
	for {
		progressed := false
		for j := 0; j < c.r; j++ {
			lo, hi := c.window(j)
			missing := -1
			missingCount := 0
			for i := lo; i < hi; i++ {
				if !b.Present[i] {
					missingCount++
					missing = i
				}
			}
			if missingCount != 1 || !b.Present[c.k+j] {
				continue
			}
			// Exactly one hole in this repair symbol's window, and the
			// repair symbol itself is present: recover it by XORing
			// the repair symbol with every other present source symbol
			// in the window.
			recovered := make([]byte, len(b.Symbols[c.k+j]))
			copy(recovered, b.Symbols[c.k+j])
			for i := lo; i < hi; i++ {
				if i != missing {
					xorInto(recovered, b.Symbols[i])
				}
			}
			b.Put(missing, recovered)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if b.SourceCount() < b.K {
		return fmt.Errorf("fec: staircase code could not recover full block (have %d/%d source symbols)", b.SourceCount(), b.K)
	}
	return nil
}

func xorInto(dst, src []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
