package receiver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pulsewire/pulsewire/internal/audio"
)

// Mixer sums the output of every active session into a single output
// frame per playout tick, N-way, generalizing the reference
// implementation's own G.711 two-leg mixer (see DESIGN.md) to an
// arbitrary number of float32 PCM sessions sharing one channel layout.
// Sessions that under-produce for a tick (still warming up, or
// stalled) contribute silence for that tick rather than stalling the
// whole mix.
type Mixer struct {
	logger *slog.Logger
	mask   audio.ChannelMask

	mu       sync.Mutex
	sessions map[uint32]*Session
}

// NewMixer builds a mixer producing frames in the given channel mask.
func NewMixer(mask audio.ChannelMask, logger *slog.Logger) *Mixer {
	return &Mixer{
		logger:   logger.With("subsystem", "receiver-mixer"),
		mask:     mask,
		sessions: make(map[uint32]*Session),
	}
}

// Join registers sess as a mix participant.
func (m *Mixer) Join(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ssrc] = sess
	m.logger.Info("session joined mix", "ssrc", sess.ssrc, "participants", len(m.sessions))
}

// Leave removes a session from the mix.
func (m *Mixer) Leave(ssrc uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ssrc)
	m.logger.Info("session left mix", "ssrc", ssrc, "participants", len(m.sessions))
}

// Mix pulls one playout-tick frame from every joined session and sums
// them into a single output frame of the given length in sample-frames.
func (m *Mixer) Mix(numSampleFrames int) (audio.Frame, error) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	ch := m.mask.Count()
	if ch == 0 {
		return audio.Frame{}, fmt.Errorf("receiver: mixer: empty channel mask")
	}
	out := audio.NewSilentFrame(numSampleFrames, m.mask)

	for _, s := range sessions {
		f, err := s.PullPlayout(numSampleFrames)
		if err != nil {
			m.logger.Warn("session pull failed, contributing silence", "ssrc", s.ssrc, "error", err)
			continue
		}
		audio.MixInto(out.Samples, out.Mask, f.Samples, f.Mask)
	}

	audio.ClipFrame(out)
	return out, nil
}
