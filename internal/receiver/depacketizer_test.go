package receiver

import (
	"math"
	"testing"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

func mkAudioPacket(pool *bufpool.Pool, ssrc uint32, seq uint16, ts uint32, samples []float32) *packet.Packet {
	payload := make([]byte, len(samples)*4)
	for i, s := range samples {
		putFloat32BEForTest(payload[i*4:], s)
	}
	wire := rtpcodec.Compose(seq, ts, ssrc, false, 96, payload)
	buf := pool.Acquire(len(wire))
	copy(buf.Bytes(), wire)
	p := packet.New(buf)
	if err := rtpcodec.Parse(p); err != nil {
		panic(err)
	}
	return p
}

func putFloat32BEForTest(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits >> 24)
	b[1] = byte(bits >> 16)
	b[2] = byte(bits >> 8)
	b[3] = byte(bits)
}

func TestDepacketizerDecodesInOrderFrame(t *testing.T) {
	pool := bufpool.New(64)
	d := NewDepacketizer(audio.ChannelMono, 2)

	p := mkAudioPacket(pool, 1, 0, 0, []float32{0.5, -0.5})
	frames, ok := d.Feed(p)
	if !ok {
		t.Fatal("expected Feed to accept the first in-order packet")
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame for an in-order packet with no gap, got %d", len(frames))
	}
	if len(frames[0].Samples) != 2 || frames[0].Samples[0] != 0.5 || frames[0].Samples[1] != -0.5 {
		t.Fatalf("unexpected decoded samples: %v", frames[0].Samples)
	}
}

func TestDepacketizerFillsForwardGapWithSilence(t *testing.T) {
	pool := bufpool.New(64)
	d := NewDepacketizer(audio.ChannelMono, 2)

	first := mkAudioPacket(pool, 1, 0, 0, []float32{1, 1})
	if _, ok := d.Feed(first); !ok {
		t.Fatal("expected first packet accepted")
	}

	// Skip one 2-sample frame worth of timestamp (ts 2..3), arrive at ts 4.
	second := mkAudioPacket(pool, 1, 2, 4, []float32{2, 2})
	frames, ok := d.Feed(second)
	if !ok {
		t.Fatal("expected second packet accepted")
	}
	if len(frames) != 2 {
		t.Fatalf("expected a silence frame followed by the real frame, got %d frames", len(frames))
	}
	for _, s := range frames[0].Samples {
		if s != 0 {
			t.Fatalf("expected gap-fill frame to be silent, got %v", frames[0].Samples)
		}
	}
	if frames[1].Samples[0] != 2 {
		t.Fatalf("expected real frame samples [2,2], got %v", frames[1].Samples)
	}
}

func TestDepacketizerDropsStaleDuplicate(t *testing.T) {
	pool := bufpool.New(64)
	d := NewDepacketizer(audio.ChannelMono, 2)

	first := mkAudioPacket(pool, 1, 5, 100, []float32{1, 1})
	if _, ok := d.Feed(first); !ok {
		t.Fatal("expected first packet accepted")
	}

	stale := mkAudioPacket(pool, 1, 4, 98, []float32{9, 9})
	if _, ok := d.Feed(stale); ok {
		t.Fatal("expected a packet older than the expected timestamp to be dropped")
	}
}
