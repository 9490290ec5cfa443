package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/packet"
)

var errCaptureDone = errors.New("capture exhausted")

// fixedFrameCapture yields the same frame n times, then errCaptureDone.
type fixedFrameCapture struct {
	mu     sync.Mutex
	frame  audio.Frame
	remain int
}

func (c *fixedFrameCapture) Read(ctx context.Context) (audio.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remain <= 0 {
		return audio.Frame{}, errCaptureDone
	}
	c.remain--
	return c.frame, nil
}

type countingPacketWriter struct {
	mu    sync.Mutex
	count int
}

func (w *countingPacketWriter) Write(p *packet.Packet) error {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
	p.Release()
	return nil
}

func (w *countingPacketWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func TestPipelineRunForwardsEveryFrameUntilCaptureEnds(t *testing.T) {
	pool := bufpool.New(64)
	pz := NewPacketizer(pool, 1, 96, 0, 0)
	capture := &fixedFrameCapture{
		frame:  audio.Frame{Samples: []audio.Sample{0.1, 0.2}, Mask: audio.ChannelMono},
		remain: 5,
	}
	w := &countingPacketWriter{}
	logger := slog.New(slog.NewTextHandler(discardWriterForTest{}, nil))

	p := NewPipeline(capture, pz, w, time.Millisecond, logger)

	err := p.Run(context.Background())
	if !errors.Is(err, errCaptureDone) {
		t.Fatalf("expected Run to surface the capture's terminal error, got %v", err)
	}
	if got := w.total(); got != 5 {
		t.Fatalf("expected 5 packets forwarded, got %d", got)
	}
}

func TestPipelineRunStopsOnContextCancellation(t *testing.T) {
	pool := bufpool.New(64)
	pz := NewPacketizer(pool, 1, 96, 0, 0)
	capture := &fixedFrameCapture{
		frame:  audio.Frame{Samples: []audio.Sample{0.1, 0.2}, Mask: audio.ChannelMono},
		remain: 1_000_000,
	}
	w := &countingPacketWriter{}
	logger := slog.New(slog.NewTextHandler(discardWriterForTest{}, nil))

	p := NewPipeline(capture, pz, w, time.Millisecond, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Run to return context.DeadlineExceeded, got %v", err)
	}
}

type discardWriterForTest struct{}

func (discardWriterForTest) Write(p []byte) (int, error) { return len(p), nil }
