package receiver

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/fec"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/pulseerr"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// State is a Session's position in the lifecycle spec.md §4.3 defines:
// a session is Created on its first packet, becomes Active once it has
// warmed up and is contributing real audio to the mix, Stalled when it
// has gone quiet but not yet timed out, and Destroyed once the router
// reaps it for exceeding the idle timeout.
type State int

const (
	StateCreated State = iota
	StateActive
	StateStalled
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateStalled:
		return "stalled"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Session owns the full per-SSRC receive chain: FEC reassembly (if
// enabled for this peer), out-of-order reordering, latency-floor
// buffering, depacketization, and rate-controlled resampling, whose
// output is what the shared Mixer pulls from each playout tick.
type Session struct {
	ssrc   uint32
	id     string // internal tracking id, stable across SSRC reuse within one process lifetime
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	lastSeenAt time.Time

	haveClockOrigin bool
	clockOriginTS   uint32
	clockOriginAt   time.Time

	fecEnabled bool
	fecReader  *FECReader
	reorder    *ReorderQueue
	depkt      *Depacketizer
	delayed    *DelayedReader
	latency    *LatencyController
	resampler  *Resampler
	mask       audio.ChannelMask
	rate       uint32
}

// SessionConfig bundles a Session's tunables, set once at creation from
// the peer's negotiated settings (spec.md §6: --fec, --nbsrc, --nbrpr,
// --timing).
type SessionConfig struct {
	Mask            audio.ChannelMask
	FrameSamples    uint32
	SampleRate      uint32 // RTP timestamp ticks per second, for WallClock mapping
	ReorderCapacity int
	LatencyFloor    int // sample-frames (D)

	FEC struct {
		Enabled   bool
		Scheme    fecproto.Scheme
		Decoder   fec.Decoder
		K, R      int
		Window    int
		SymbolLen int
	}
}

// NewSession builds a session for ssrc per cfg.
func NewSession(ssrc uint32, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	id := uuid.New().String()
	logger = logger.With("subsystem", "receiver-session", "ssrc", ssrc, "session_id", id)

	reorder := NewReorderQueue(cfg.ReorderCapacity)
	depkt := NewDepacketizer(cfg.Mask, cfg.FrameSamples)
	delayed := NewDelayedReader(int(cfg.FrameSamples), cfg.LatencyFloor)
	latency := NewLatencyController(cfg.LatencyFloor)

	resamp, err := NewResampler(cfg.Mask.Count())
	if err != nil {
		return nil, fmt.Errorf("receiver: session: new resampler: %w", err)
	}

	s := &Session{
		ssrc:       ssrc,
		id:         id,
		logger:     logger,
		state:      StateCreated,
		lastSeenAt: time.Now(),
		fecEnabled: cfg.FEC.Enabled,
		reorder:    reorder,
		depkt:      depkt,
		delayed:    delayed,
		latency:    latency,
		rate:       cfg.SampleRate,
		resampler:  resamp,
		mask:       cfg.Mask,
	}
	return s, nil
}

// SetFECReader attaches a FEC reader whose emit callback must be
// s.insertReordered; constructing the FECReader requires the bufpool
// and decoder, which live above this package, so wiring happens from
// the pipeline rather than inside NewSession.
func (s *Session) SetFECReader(r *FECReader) {
	s.fecReader = r
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeenAt = time.Now()
	if s.state == StateStalled {
		s.state = StateActive
	}
}

func (s *Session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenAt
}

// Close releases all buffered packets and marks the session destroyed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDestroyed
	s.reorder.Close()
}

// AcceptSource routes an inbound source packet into the FEC reader (if
// enabled) or straight into the reorder queue.
func (s *Session) AcceptSource(p *packet.Packet) error {
	s.recordClockOrigin(p.RTP.Timestamp)
	if s.fecEnabled && s.fecReader != nil {
		return s.fecReader.AcceptSource(p)
	}
	if !s.reorder.Insert(p) {
		return pulseerr.New(pulseerr.Exhausted, fmt.Errorf("receiver: session: reorder queue full, dropping packet"))
	}
	return nil
}

// recordClockOrigin captures the first RTP timestamp seen for this
// session alongside the wall-clock time it arrived, anchoring
// WallClock's later mapping. Only the first call has any effect.
func (s *Session) recordClockOrigin(ts uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveClockOrigin {
		return
	}
	s.haveClockOrigin = true
	s.clockOriginTS = ts
	s.clockOriginAt = time.Now()
}

// WallClock maps an RTP timestamp from this session's stream onto an
// approximate wall-clock time, for diagnostics only (e.g. reporting a
// session's current playout age); it is never consulted by the
// latency control loop itself. Returns the zero Time if no packet has
// been seen yet.
func (s *Session) WallClock(rtpTS uint32) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveClockOrigin {
		return time.Time{}
	}
	deltaTicks := rtpcodec.TimestampDiff(rtpTS, s.clockOriginTS)
	deltaSamples := time.Duration(deltaTicks) * time.Second / time.Duration(s.sampleRate())
	return s.clockOriginAt.Add(deltaSamples)
}

// ID returns the session's internal tracking id, stable for the life
// of this Session value even if the peer's SSRC is later reused by a
// different stream.
func (s *Session) ID() string { return s.id }

func (s *Session) sampleRate() uint32 {
	if s.rate == 0 {
		return 1
	}
	return s.rate
}

// AcceptRepair routes an inbound repair packet into the FEC reader.
func (s *Session) AcceptRepair(p *packet.Packet) error {
	if s.fecEnabled && s.fecReader != nil {
		return s.fecReader.AcceptRepair(p)
	}
	p.Release()
	return nil
}

// insertReordered is the FECReader emit callback: packets recovered or
// passed through by FEC are inserted into the reorder queue like any
// other source packet.
func (s *Session) insertReordered(p *packet.Packet) {
	if !s.reorder.Insert(p) {
		s.logger.Debug("dropping FEC-sourced packet, reorder queue full", "category", pulseerr.Exhausted)
	}
}

// drainReorderedInto feeds every packet currently in the reorder queue,
// lowest sequence first, into the depacketizer, pushing the resulting
// frames onto the delayed reader. The queue is emptied on every call:
// reordering covers only packets that arrived since the previous
// playout pull, and nothing is held back waiting for a missing earlier
// packet (the depacketizer fills that gap with silence and drops the
// packet as stale if it arrives later).
func (s *Session) drainReorderedInto(d *Depacketizer, delayed *DelayedReader) {
	for {
		p := s.reorder.Pop()
		if p == nil {
			return
		}
		frames, ok := d.Feed(p)
		if !ok {
			continue
		}
		delayed.Push(frames...)
	}
}

// PullPlayout produces the session's next numSampleFrames of audio for
// the mixer: drains newly-arrived packets, pops one target-length
// chunk off the delayed reader, and resamples it by the latency
// controller's current ratio to nudge buffered depth back toward D.
func (s *Session) PullPlayout(numSampleFrames int) (audio.Frame, error) {
	s.drainReorderedInto(s.depkt, s.delayed)

	f, warmedUp := s.delayed.Pop(s.mask)
	s.mu.Lock()
	if warmedUp {
		s.state = StateActive
	} else if s.state == StateActive {
		s.state = StateStalled
	}
	s.mu.Unlock()

	ratio := s.latency.Update(s.delayed.BufferedSampleFrames())
	resampled, err := s.resampler.Process(f, ratio)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("receiver: session: resample: %w", err)
	}
	return resampled, nil
}
