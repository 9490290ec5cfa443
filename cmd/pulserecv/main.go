// Command pulserecv listens for RTP audio from one or more pulsesend
// peers, reassembles and mixes their streams, and writes raw
// interleaved 32-bit big-endian float PCM to stdout. Real audio
// playback (sound card output) is out of scope — see SPEC_FULL.md's
// Non-goals — so the playout sink here is always a byte stream, in the
// tradition of the reference project's own roc-recv CLI tool.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/config"
	"github.com/pulsewire/pulsewire/internal/fec"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/metrics"
	"github.com/pulsewire/pulsewire/internal/netio"
	"github.com/pulsewire/pulsewire/internal/receiver"
)

const (
	defaultFrameSamples    = 960 // 20ms @ 48kHz; scaled by --rate in run, matching the sender's own packetization period
	defaultReorderCapacity = 64
	defaultFECWindow       = 16
)

func main() {
	cfg, err := config.LoadReceiver(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.LogFormat, cfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("pulserecv exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ReceiverConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := bufpool.New(1500)

	sourceSock, err := netio.Listen(cfg.Local, pool, netio.Config{QueueDepth: 512, MTU: 1500}, logger)
	if err != nil {
		return fmt.Errorf("binding source socket: %w", err)
	}
	defer sourceSock.Close()

	frameSamples := defaultFrameSamples * cfg.Rate / 48000
	if frameSamples < 1 {
		frameSamples = 1
	}

	var repairSock *netio.Socket
	pcfg := receiver.PipelineConfig{
		IdleTimeout: time.Duration(cfg.IdleTimeout) * time.Millisecond,
		RepairTTL:   250 * time.Millisecond,
		PlayoutTick: time.Duration(frameSamples) * time.Second / time.Duration(cfg.Rate),
	}
	pcfg.Mask = channelMask(cfg.Channels)
	pcfg.FrameSamples = uint32(frameSamples)
	pcfg.SampleRate = uint32(cfg.Rate)
	pcfg.ReorderCapacity = defaultReorderCapacity
	pcfg.LatencyFloor = cfg.Timing * cfg.Rate / 1000

	if cfg.FEC != "none" {
		repairSock, err = netio.Listen(cfg.RepairLocal, pool, netio.Config{QueueDepth: 512, MTU: 1500}, logger)
		if err != nil {
			return fmt.Errorf("binding repair socket: %w", err)
		}
		defer repairSock.Close()

		scheme, decoder, symbolLen, err := buildFECDecoder(cfg)
		if err != nil {
			return err
		}
		pcfg.FEC.Enabled = true
		pcfg.FEC.Scheme = scheme
		pcfg.FEC.Decoder = decoder
		pcfg.FEC.K = cfg.NbSrc
		pcfg.FEC.R = cfg.NbRpr
		pcfg.FEC.Window = defaultFECWindow
		pcfg.FEC.SymbolLen = symbolLen
	}

	output := newStdoutPlayout(os.Stdout, logger)

	reg := metrics.New()
	go func() {
		if err := reg.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("pulserecv starting",
		"local", cfg.Local, "fec", cfg.FEC, "rate", cfg.Rate,
		"channels", cfg.Channels, "timing_ms", cfg.Timing, "metrics_addr", cfg.MetricsAddr)

	pipeline := receiver.NewPipeline(pcfg, pool, sourceSock, repairSock, output, logger)
	return pipeline.Run(ctx)
}

func buildFECDecoder(cfg *config.ReceiverConfig) (fecproto.Scheme, fec.Decoder, int, error) {
	symbolLen := payloadSymbolLen(cfg.Rate, cfg.Channels)
	switch cfg.FEC {
	case "rs":
		codec, err := fec.NewReedSolomonCodec(cfg.NbSrc, cfg.NbRpr)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("building reed-solomon codec: %w", err)
		}
		return fecproto.ReedSolomonM8, codec, symbolLen, nil
	case "ldpc":
		return fecproto.LDPCStaircase, fec.NewLDPCStaircaseCodec(cfg.NbSrc, cfg.NbRpr), symbolLen, nil
	default:
		return 0, nil, 0, fmt.Errorf("unknown fec scheme %q", cfg.FEC)
	}
}

// payloadSymbolLen bounds a FEC symbol to the largest plain-audio
// payload a packet at this rate/channel count will ever carry (one
// packetization period's worth of samples), matching the sender's own
// framing so a repair symbol and a source payload are interchangeable
// within a block.
func payloadSymbolLen(rate, channels int) int {
	frames := defaultFrameSamples * rate / 48000
	if frames < 1 {
		frames = 1
	}
	return frames * channels * 4
}

func channelMask(channels int) audio.ChannelMask {
	if channels == 1 {
		return audio.ChannelMono
	}
	return audio.ChannelStereo
}

// stdoutPlayout adapts audio.Writer onto a raw big-endian float32 PCM
// byte stream on w.
type stdoutPlayout struct {
	w       *bufio.Writer
	logger  *slog.Logger
	scratch []byte
}

func newStdoutPlayout(w io.Writer, logger *slog.Logger) *stdoutPlayout {
	return &stdoutPlayout{w: bufio.NewWriterSize(w, 1<<16), logger: logger}
}

func (s *stdoutPlayout) Write(ctx context.Context, f audio.Frame) error {
	need := len(f.Samples) * 4
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	buf := s.scratch[:need]
	for i, sample := range f.Samples {
		bits := math.Float32bits(sample)
		b := buf[i*4:]
		b[0] = byte(bits >> 24)
		b[1] = byte(bits >> 16)
		b[2] = byte(bits >> 8)
		b[3] = byte(bits)
	}
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("stdout playout: %w", err)
	}
	return s.w.Flush()
}

func newLogHandler(format, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
