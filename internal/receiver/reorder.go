package receiver

import (
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// ReorderQueue holds out-of-order source packets in sequence-number
// order, insertion-sorted on arrival, so the depacketizer downstream
// sees packets in non-decreasing sequence order. A packet whose
// sequence number is already queued is not dropped here: it is queued
// right after the earlier copy, and the depacketizer discards it as
// stale. It is
// capacity-bounded: once full, a new arrival is dropped outright
// (spec.md §4.4), since an unbounded queue would let a single missing
// packet stall the entire session.
type ReorderQueue struct {
	capacity int
	items    []*packet.Packet
}

// NewReorderQueue creates a queue holding up to capacity packets.
func NewReorderQueue(capacity int) *ReorderQueue {
	return &ReorderQueue{capacity: capacity}
}

// Insert places p into sequence order. If the queue is already at
// capacity, p itself is dropped (returns false) regardless of where it
// would have landed — the caller retains no obligation, Insert already
// released it.
func (q *ReorderQueue) Insert(p *packet.Packet) bool {
	if len(q.items) >= q.capacity {
		p.Release()
		return false
	}

	seq := p.RTP.SequenceNumber
	i := 0
	for ; i < len(q.items); i++ {
		if rtpcodec.SeqGreater(q.items[i].RTP.SequenceNumber, seq) {
			break
		}
	}

	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = p
	return true
}

// Len returns the number of packets currently queued.
func (q *ReorderQueue) Len() int { return len(q.items) }

// Peek returns the lowest-sequence queued packet without removing it,
// or nil if the queue is empty.
func (q *ReorderQueue) Peek() *packet.Packet {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the lowest-sequence queued packet.
func (q *ReorderQueue) Pop() *packet.Packet {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

// Close releases every packet still held.
func (q *ReorderQueue) Close() {
	for _, p := range q.items {
		p.Release()
	}
	q.items = nil
}
