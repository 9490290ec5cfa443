package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/fecproto"
	"github.com/pulsewire/pulsewire/internal/netio"
	"github.com/pulsewire/pulsewire/internal/packet"
	"github.com/pulsewire/pulsewire/internal/pulseerr"
	"github.com/pulsewire/pulsewire/internal/rtpcodec"
)

// PipelineConfig bundles everything needed to construct a receiver
// pipeline's per-session chain and playout loop, mirroring the CLI
// surface spec.md §6 defines for the receiving peer.
type PipelineConfig struct {
	SessionConfig
	IdleTimeout  time.Duration
	RepairTTL    time.Duration
	PlayoutTick  time.Duration
}

// Pipeline is the receiver's top-level wiring: two netio sockets
// (source and repair), a Router dispatching to per-SSRC Sessions, and
// a Mixer whose output is pulled once per playout tick.
type Pipeline struct {
	cfg    PipelineConfig
	pool   *bufpool.Pool
	logger *slog.Logger

	sourceSock *netio.Socket
	repairSock *netio.Socket
	router     *Router
	mixer      *Mixer
	output     audio.Writer
}

// NewPipeline builds a receiver pipeline. output is the playout sink
// (e.g. the local sound device); sourceSock/repairSock are already
// bound and listening.
func NewPipeline(cfg PipelineConfig, pool *bufpool.Pool, sourceSock, repairSock *netio.Socket, output audio.Writer, logger *slog.Logger) *Pipeline {
	logger = logger.With("subsystem", "receiver-pipeline")
	mixer := NewMixer(cfg.Mask, logger)

	p := &Pipeline{
		cfg:        cfg,
		pool:       pool,
		logger:     logger,
		sourceSock: sourceSock,
		repairSock: repairSock,
		mixer:      mixer,
		output:     output,
	}

	p.router = NewRouter(p.newSession, cfg.IdleTimeout, cfg.RepairTTL, logger)
	return p
}

func (p *Pipeline) newSession(ssrc uint32) *Session {
	sess, err := NewSession(ssrc, p.cfg.SessionConfig, p.logger)
	if err != nil {
		// Session construction only fails on a malformed resampler
		// channel count, which a valid SessionConfig never produces;
		// a session that cannot be built contributes silence forever
		// rather than taking down the router.
		p.logger.Error("session construction failed, using a no-op session", "ssrc", ssrc, "error", err)
		sess = &Session{ssrc: ssrc, logger: p.logger}
	}

	if p.cfg.FEC.Enabled {
		decoder := p.cfg.FEC.Decoder
		fr := NewFECReader(p.cfg.FEC.Scheme, decoder, p.pool, p.cfg.FEC.K, p.cfg.FEC.R, p.cfg.FEC.Window, p.cfg.FEC.SymbolLen, p.cfg.FrameSamples, sess.insertReordered)
		sess.SetFECReader(fr)
	}

	p.mixer.Join(sess)
	return sess
}

// Run reads from both sockets and drives the playout loop until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("receiver pipeline started")
	defer p.logger.Info("receiver pipeline stopped")

	go p.sourceSock.ReadLoop(ctx)
	go p.router.RunReaper(ctx, p.cfg.IdleTimeout/2)
	go p.dispatchLoop(ctx, p.sourceSock.Inbound(), p.routeSource)

	if p.repairSock != nil {
		go p.repairSock.ReadLoop(ctx)
		go p.dispatchLoop(ctx, p.repairSock.Inbound(), p.routeRepair)
	}

	return p.playoutLoop(ctx)
}

func (p *Pipeline) dispatchLoop(ctx context.Context, in <-chan *packet.Packet, handle func(*packet.Packet)) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			handle(pkt)
		}
	}
}

func (p *Pipeline) routeSource(pkt *packet.Packet) {
	if err := rtpcodec.Parse(pkt); err != nil {
		err = pulseerr.New(pulseerr.Malformed, err)
		cat, _ := pulseerr.CategoryOf(err)
		p.logger.Debug("malformed source packet, dropping", "category", cat, "error", err)
		pkt.Release()
		return
	}
	if err := p.router.RouteSource(pkt); err != nil {
		cat, _ := pulseerr.CategoryOf(err)
		p.logger.Debug("source routing failed", "category", cat, "error", err)
	}
}

func (p *Pipeline) routeRepair(pkt *packet.Packet) {
	view, err := fecproto.DecodeRepair(p.cfg.FEC.Scheme, pkt.Bytes())
	if err != nil {
		err = pulseerr.New(pulseerr.Malformed, err)
		cat, _ := pulseerr.CategoryOf(err)
		p.logger.Debug("malformed repair packet, dropping", "category", cat, "error", err)
		pkt.Release()
		return
	}
	if err := p.router.RouteRepair(view.SSRC, pkt); err != nil {
		cat, _ := pulseerr.CategoryOf(err)
		p.logger.Debug("repair routing failed", "category", cat, "error", err)
	}
}

func (p *Pipeline) playoutLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PlayoutTick)
	defer ticker.Stop()

	frameSamples := int(p.cfg.FrameSamples)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		mixed, err := p.mixer.Mix(frameSamples)
		if err != nil {
			p.logger.Warn("mix failed", "error", err)
			continue
		}
		if err := p.output.Write(ctx, mixed); err != nil {
			return fmt.Errorf("receiver: playout write: %w", err)
		}
	}
}

