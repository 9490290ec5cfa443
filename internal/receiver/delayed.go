package receiver

import (
	"container/list"
	"sync"

	"github.com/pulsewire/pulsewire/internal/audio"
)

// DelayedReader buffers incoming frames behind a target latency floor
// D before releasing them for playout, per spec.md §4.3's latency
// control: the jitter buffer warms up by accumulating D worth of audio
// before the first frame is ever released, then steady-state releases
// one frame per playout tick while the resampler's PID loop nudges the
// effective rate to keep the buffered depth near D despite clock
// drift and jitter.
type DelayedReader struct {
	mu           sync.Mutex
	queue        list.List // of audio.Frame
	frameSamples int
	targetFrames int // D expressed in sample-frames

	warmed bool
}

// NewDelayedReader builds a reader targeting a latency floor of
// targetFrames sample-frames, each incoming Frame assumed to be
// frameSamples sample-frames long.
func NewDelayedReader(frameSamples, targetFrames int) *DelayedReader {
	return &DelayedReader{frameSamples: frameSamples, targetFrames: targetFrames}
}

// Push appends a frame (or a run of frames, e.g. a gap-fill followed
// by real audio) to the buffer.
func (d *DelayedReader) Push(frames ...audio.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range frames {
		d.queue.PushBack(f)
	}
}

// BufferedSampleFrames returns the total sample-frames currently
// queued, used by the PID latency controller to measure drift from D.
func (d *DelayedReader) BufferedSampleFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferedLocked()
}

func (d *DelayedReader) bufferedLocked() int {
	n := 0
	for e := d.queue.Front(); e != nil; e = e.Next() {
		n += e.Value.(audio.Frame).NumSampleFrames()
	}
	return n
}

// Pop returns the next frame for playout, or a silent frame of
// frameSamples length (and ok=false) if the buffer is still warming up
// or has run dry — spec.md's "sessions that under-produce contribute
// silence" rule applies equally to a stalled session feeding the
// mixer.
func (d *DelayedReader) Pop(mask audio.ChannelMask) (f audio.Frame, warmedUp bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.warmed {
		if d.bufferedLocked() < d.targetFrames {
			return audio.NewSilentFrame(d.frameSamples, mask), false
		}
		d.warmed = true
	}

	front := d.queue.Front()
	if front == nil {
		// Once warm, a transient underflow costs one silent frame, not
		// a full re-buffer to the latency floor: warmed never resets.
		return audio.NewSilentFrame(d.frameSamples, mask), false
	}
	d.queue.Remove(front)
	return front.Value.(audio.Frame), true
}
