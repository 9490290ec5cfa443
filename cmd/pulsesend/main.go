// Command pulsesend reads raw interleaved 32-bit big-endian float PCM
// from stdin and streams it to a remote pulserecv peer over RTP, per
// spec.md §4.2's send pipeline. It is a thin driver over
// internal/sender: real audio capture (sound card input) is out of
// scope — see SPEC_FULL.md's Non-goals — so the capture source here
// is always a byte stream, in the tradition of the reference
// project's own roc-send CLI tool.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/config"
	"github.com/pulsewire/pulsewire/internal/fec"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/netio"
	"github.com/pulsewire/pulsewire/internal/sender"
)

const samplesPerPacket = 960 // 20ms @ 48kHz mono; scaled by rate below

func main() {
	cfg, err := config.LoadSender(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.LogFormat, cfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("pulsesend exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.SenderConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := bufpool.New(1500)

	sourceSock, err := netio.Listen(cfg.Source, pool, netio.Config{QueueDepth: 256, MTU: 1500}, logger)
	if err != nil {
		return fmt.Errorf("binding source socket: %w", err)
	}
	defer sourceSock.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.Remote)
	if err != nil {
		return fmt.Errorf("resolving --remote: %w", err)
	}

	ssrc := rand.Uint32()
	seq := uint16(rand.UintN(65536))
	timestamp := rand.Uint32()

	payloadType := uint8(96) // dynamic PT, per RFC 3551 guidance for non-standard payloads
	pz := sender.NewPacketizer(pool, ssrc, payloadType, seq, timestamp)

	sourceComposer := sender.NewPortComposer(sourceSock, remoteAddr)

	var firstWriter sender.Writer = sourceComposer

	if cfg.FEC != "none" {
		repairSock, err := netio.Listen(cfg.Repair, pool, netio.Config{QueueDepth: 256, MTU: 1500}, logger)
		if err != nil {
			return fmt.Errorf("binding repair socket: %w", err)
		}
		defer repairSock.Close()

		remoteRepairAddr, err := net.ResolveUDPAddr("udp", cfg.RemoteRepair)
		if err != nil {
			return fmt.Errorf("resolving --remote-repair: %w", err)
		}
		repairComposer := sender.NewPortComposer(repairSock, remoteRepairAddr)

		scheme, encoder, err := buildFECEncoder(cfg)
		if err != nil {
			return err
		}
		firstWriter = sender.NewFECWriter(scheme, encoder, pool, ssrc, cfg.NbSrc, cfg.NbRpr, sourceComposer, repairComposer)
	}

	if cfg.Interleaving {
		blockSize := cfg.NbSrc
		if blockSize < 1 {
			blockSize = 1
		}
		firstWriter = sender.NewInterleaver(firstWriter, blockSize, rand.Uint64())
	}

	framesPerPacket := samplesPerPacket * cfg.Rate / 48000
	if framesPerPacket < 1 {
		framesPerPacket = 1
	}
	framePeriod := time.Duration(framesPerPacket) * time.Second / time.Duration(cfg.Rate)

	mask := channelMask(cfg.Channels)
	capture := newStdinCapture(os.Stdin, framesPerPacket, mask, logger)

	logger.Info("pulsesend starting",
		"source", cfg.Source, "remote", cfg.Remote, "fec", cfg.FEC,
		"rate", cfg.Rate, "channels", cfg.Channels, "ssrc", ssrc)

	pipeline := sender.NewPipeline(capture, pz, firstWriter, framePeriod, logger)
	return pipeline.Run(ctx)
}

func buildFECEncoder(cfg *config.SenderConfig) (fecproto.Scheme, fec.Encoder, error) {
	switch cfg.FEC {
	case "rs":
		codec, err := fec.NewReedSolomonCodec(cfg.NbSrc, cfg.NbRpr)
		if err != nil {
			return 0, nil, fmt.Errorf("building reed-solomon codec: %w", err)
		}
		return fecproto.ReedSolomonM8, codec, nil
	case "ldpc":
		return fecproto.LDPCStaircase, fec.NewLDPCStaircaseCodec(cfg.NbSrc, cfg.NbRpr), nil
	default:
		return 0, nil, fmt.Errorf("unknown fec scheme %q", cfg.FEC)
	}
}

func channelMask(channels int) audio.ChannelMask {
	if channels == 1 {
		return audio.ChannelMono
	}
	return audio.ChannelStereo
}

// stdinCapture adapts a raw big-endian float32 PCM byte stream on r
// into fixed-size audio Frames, reading framesPerPacket sample-frames
// at a time. End of stream (io.EOF) is reported as an error so the
// pipeline can shut down cleanly.
type stdinCapture struct {
	r               *bufio.Reader
	framesPerPacket int
	mask            audio.ChannelMask
	logger          *slog.Logger
	scratch         []byte
}

func newStdinCapture(r io.Reader, framesPerPacket int, mask audio.ChannelMask, logger *slog.Logger) *stdinCapture {
	ch := mask.Count()
	return &stdinCapture{
		r:               bufio.NewReaderSize(r, 1<<16),
		framesPerPacket: framesPerPacket,
		mask:            mask,
		logger:          logger,
		scratch:         make([]byte, framesPerPacket*ch*4),
	}
}

func (c *stdinCapture) Read(ctx context.Context) (audio.Frame, error) {
	if _, err := io.ReadFull(c.r, c.scratch); err != nil {
		return audio.Frame{}, fmt.Errorf("stdin capture: %w", err)
	}

	ch := c.mask.Count()
	samples := make([]audio.Sample, c.framesPerPacket*ch)
	for i := range samples {
		b := c.scratch[i*4:]
		bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		samples[i] = math.Float32frombits(bits)
	}
	return audio.Frame{Samples: samples, Mask: c.mask}, nil
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
