package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
)

// Pipeline wires a capture Reader through the packetizer, optional
// interleaver, optional FEC writer, and port composer, paced by a
// ticker at the capture device's frame period (spec.md §5: "the
// pipeline thread is clock-paced off the sender's own capture
// interval, not off the network").
type Pipeline struct {
	capture     audio.Reader
	packetizer  *Packetizer
	firstWriter Writer
	framePeriod time.Duration
	logger      *slog.Logger
}

// NewPipeline builds a sender pipeline. firstWriter is the head of the
// write chain (interleaver, if enabled, else FEC writer, if enabled,
// else the source port composer directly) — Pipeline itself does not
// know or care which stages are present downstream.
func NewPipeline(capture audio.Reader, pz *Packetizer, firstWriter Writer, framePeriod time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		capture:     capture,
		packetizer:  pz,
		firstWriter: firstWriter,
		framePeriod: framePeriod,
		logger:      logger.With("subsystem", "sender-pipeline"),
	}
}

// Run reads frames from capture, packetizes and forwards each one,
// until ctx is cancelled. A capture read error ends Run and is
// returned wrapped.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("sender pipeline started", "frame_period", p.framePeriod)
	defer p.logger.Info("sender pipeline stopped")

	ticker := time.NewTicker(p.framePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		f, err := p.capture.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sender: capture read: %w", err)
		}

		pkt, err := p.packetizer.Packetize(f)
		if err != nil {
			p.logger.Warn("packetize failed, dropping frame", "error", err)
			continue
		}

		if err := p.firstWriter.Write(pkt); err != nil {
			p.logger.Warn("downstream write failed, dropping packet", "error", err)
		}
	}
}
