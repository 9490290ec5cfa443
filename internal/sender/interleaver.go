package sender

import (
	"math/rand/v2"

	"github.com/pulsewire/pulsewire/internal/packet"
)

// Interleaver reorders packets into a pseudo-random transmit order
// within fixed-size blocks before handing them to the next writer,
// spreading a burst packet loss across the original packet order so
// the receiver's FEC and reordering stages see losses as scattered
// singletons rather than a contiguous run. Grounded on the reference
// implementation's packet interleaver, which buffers block_size
// packets and releases them in a randomized send sequence.
type Interleaver struct {
	next      Writer
	blockSize int
	seed      uint64

	buf     []*packet.Packet
	sendSeq []int
	nextPut int
}

// Writer accepts a composed packet for the next sender stage.
type Writer interface {
	Write(p *packet.Packet) error
}

// NewInterleaver builds an interleaver of blockSize packets feeding
// next. seed determines the permutation sequence deterministically —
// tests fix it for reproducibility; production wiring seeds from
// crypto-independent entropy since the permutation need not be secret.
func NewInterleaver(next Writer, blockSize int, seed uint64) *Interleaver {
	il := &Interleaver{
		next:      next,
		blockSize: blockSize,
		seed:      seed,
		buf:       make([]*packet.Packet, blockSize),
	}
	il.reinitSeq()
	return il
}

func (il *Interleaver) reinitSeq() {
	seq := make([]int, il.blockSize)
	for i := range seq {
		seq[i] = i
	}
	rng := rand.New(rand.NewPCG(il.seed, 0))
	rng.Shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
	il.sendSeq = seq
}

// Write buffers p at the next slot of the current block. Once a full
// block has been buffered, it is flushed to next in the block's
// randomized send order.
func (il *Interleaver) Write(p *packet.Packet) error {
	il.buf[il.nextPut] = p
	il.nextPut++
	if il.nextPut < il.blockSize {
		return nil
	}
	return il.flush()
}

func (il *Interleaver) flush() error {
	for _, idx := range il.sendSeq {
		pkt := il.buf[idx]
		if pkt == nil {
			continue
		}
		if err := il.next.Write(pkt); err != nil {
			return err
		}
		il.buf[idx] = nil
	}
	il.nextPut = 0
	il.seed++
	il.reinitSeq()
	return nil
}

// Flush forces out any partially-filled block, in original (unshuffled
// buffered) order, for use at shutdown.
func (il *Interleaver) Flush() error {
	if il.nextPut == 0 {
		return nil
	}
	for i := 0; i < il.nextPut; i++ {
		if err := il.next.Write(il.buf[i]); err != nil {
			return err
		}
		il.buf[i] = nil
	}
	il.nextPut = 0
	return nil
}
