package sender

import (
	"math"
	"testing"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/packet"
)

func TestPacketizeAdvancesSeqAndTimestamp(t *testing.T) {
	pool := bufpool.New(256)
	pz := NewPacketizer(pool, 0xABCD1234, 96, 100, 48000)

	f := audio.Frame{Samples: []audio.Sample{0.5, -0.25, 0.125, -0.0625}, Mask: audio.ChannelStereo}

	p1, err := pz.Packetize(f)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	defer p1.Release()

	if p1.RTP.SequenceNumber != 100 {
		t.Errorf("first packet seq: got %d, want 100", p1.RTP.SequenceNumber)
	}
	if p1.RTP.Timestamp != 48000 {
		t.Errorf("first packet timestamp: got %d, want 48000", p1.RTP.Timestamp)
	}
	if p1.RTP.SSRC != 0xABCD1234 {
		t.Errorf("ssrc: got %#x, want 0xABCD1234", p1.RTP.SSRC)
	}

	p2, err := pz.Packetize(f)
	if err != nil {
		t.Fatalf("Packetize (second): %v", err)
	}
	defer p2.Release()

	if p2.RTP.SequenceNumber != 101 {
		t.Errorf("second packet seq: got %d, want 101", p2.RTP.SequenceNumber)
	}
	// 4 samples / 2 channels = 2 sample-frames advance.
	if p2.RTP.Timestamp != 48002 {
		t.Errorf("second packet timestamp: got %d, want 48002", p2.RTP.Timestamp)
	}
}

func TestPacketizePayloadIsBigEndianFloat32(t *testing.T) {
	pool := bufpool.New(256)
	pz := NewPacketizer(pool, 1, 96, 0, 0)

	f := audio.Frame{Samples: []audio.Sample{1.0}, Mask: audio.ChannelMono}
	p, err := pz.Packetize(f)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	defer p.Release()

	payload := p.Payload()
	if len(payload) != 4 {
		t.Fatalf("expected 4-byte payload for one mono sample, got %d", len(payload))
	}
	bits := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	got := math.Float32frombits(bits)
	if got != 1.0 {
		t.Fatalf("decoded sample: got %v, want 1.0 (payload bytes %v, wrong endianness would decode as %v)",
			got, payload, math.Float32frombits(binaryLE(payload)))
	}
}

func binaryLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// recordingWriter captures the order packets are written in via a tag
// byte stashed in each packet's payload.
type recordingWriter struct {
	order []byte
}

func (w *recordingWriter) Write(p *packet.Packet) error {
	w.order = append(w.order, p.Bytes()[0])
	p.Release()
	return nil
}

func TestInterleaverPermutesWithinBlockButDeliversEveryPacket(t *testing.T) {
	pool := bufpool.New(16)
	rw := &recordingWriter{}
	il := NewInterleaver(rw, 8, 42)

	var original []byte
	for i := byte(0); i < 8; i++ {
		buf := pool.Acquire(1)
		buf.Bytes()[0] = i
		original = append(original, i)
		if err := il.Write(packet.New(buf)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if len(rw.order) != 8 {
		t.Fatalf("expected all 8 packets flushed after a full block, got %d", len(rw.order))
	}

	seen := map[byte]bool{}
	for _, tag := range rw.order {
		seen[tag] = true
	}
	for _, tag := range original {
		if !seen[tag] {
			t.Fatalf("packet %d was never delivered", tag)
		}
	}

	permuted := false
	for i, tag := range rw.order {
		if tag != original[i] {
			permuted = true
		}
	}
	if !permuted {
		t.Fatalf("expected a permuted send order, got the original order %v", rw.order)
	}
}

func TestInterleaverFlushDeliversPartialBlockInOriginalOrder(t *testing.T) {
	pool := bufpool.New(16)
	rw := &recordingWriter{}
	il := NewInterleaver(rw, 8, 7)

	for i := byte(0); i < 3; i++ {
		buf := pool.Acquire(1)
		buf.Bytes()[0] = i
		if err := il.Write(packet.New(buf)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if len(rw.order) != 0 {
		t.Fatalf("expected no flush before the block fills, got %d packets", len(rw.order))
	}

	if err := il.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(rw.order) != 3 || rw.order[0] != 0 || rw.order[1] != 1 || rw.order[2] != 2 {
		t.Fatalf("expected partial-block flush in original order [0,1,2], got %v", rw.order)
	}
}
