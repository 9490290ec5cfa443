// Package receiver implements spec.md §4.3's receive pipeline: a
// router dispatching inbound packets to per-SSRC sessions, each
// running its own FEC reader, reorder queue, delayed reader,
// depacketizer, and resampler, converging on a shared mixer.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsewire/pulsewire/internal/packet"
)

// Router dispatches packets arriving on the source and repair sockets
// to the Session for their SSRC, creating sessions on first contact
// and destroying them after a timeout of silence (spec.md §4.3's
// session lifecycle: created/active/stalled/destroyed).
//
// Repair packets carry no RTP header; their repair payload ID begins
// with the source SSRC (see fecproto.DecodeRepair), which the pipeline
// decodes and passes to RouteRepair, so one Router serves every sender
// arriving on a source/repair socket pair.
type Router struct {
	logger      *slog.Logger
	newSession  func(ssrc uint32) *Session
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[uint32]*Session

	// repairBuf buffers repair packets that arrive before the router
	// has learned the associated SSRC, bounded by a TTL so a repair
	// stream for a session that never starts does not leak memory —
	// one of SPEC_FULL.md's supplemented features over the base spec.
	repairBuf []bufferedRepair
	repairTTL time.Duration
}

type bufferedRepair struct {
	ssrc     uint32
	pkt      *packet.Packet
	deadline time.Time
}

// NewRouter builds a router that creates sessions via newSession and
// reaps sessions idle for longer than idleTimeout.
func NewRouter(newSession func(ssrc uint32) *Session, idleTimeout, repairTTL time.Duration, logger *slog.Logger) *Router {
	return &Router{
		logger:      logger.With("subsystem", "receiver-router"),
		newSession:  newSession,
		idleTimeout: idleTimeout,
		sessions:    make(map[uint32]*Session),
		repairTTL:   repairTTL,
	}
}

// RouteSource dispatches a parsed source packet (FlagRTP set) to its
// session, creating the session if this is its first packet.
func (r *Router) RouteSource(p *packet.Packet) error {
	if !p.Flags.Has(packet.FlagRTP) {
		p.Release()
		return fmt.Errorf("receiver: router: source packet missing RTP header")
	}
	ssrc := p.RTP.SSRC

	r.mu.Lock()
	sess, ok := r.sessions[ssrc]
	if !ok {
		sess = r.newSession(ssrc)
		r.sessions[ssrc] = sess
		r.logger.Info("session created", "ssrc", ssrc)
		r.drainBufferedRepairInto(sess, ssrc)
	}
	r.mu.Unlock()

	sess.touch()
	return sess.AcceptSource(p)
}

// RouteRepair dispatches a repair packet to the session matching ssrc,
// or buffers it briefly if the session does not exist yet (the repair
// stream's first symbol can race the source stream's first packet).
func (r *Router) RouteRepair(ssrc uint32, p *packet.Packet) error {
	r.mu.Lock()
	sess, ok := r.sessions[ssrc]
	if !ok {
		r.repairBuf = append(r.repairBuf, bufferedRepair{ssrc: ssrc, pkt: p, deadline: timeNow().Add(r.repairTTL)})
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	sess.touch()
	return sess.AcceptRepair(p)
}

func (r *Router) drainBufferedRepairInto(sess *Session, ssrc uint32) {
	now := timeNow()
	kept := r.repairBuf[:0]
	for _, br := range r.repairBuf {
		switch {
		case br.ssrc != ssrc:
			kept = append(kept, br)
		case br.deadline.Before(now):
			br.pkt.Release()
		default:
			if err := sess.AcceptRepair(br.pkt); err != nil {
				r.logger.Debug("buffered repair rejected", "error", err)
			}
		}
	}
	r.repairBuf = kept
}

// Reap removes and closes sessions that have been idle for longer than
// idleTimeout, and releases buffered repair packets whose TTL has
// passed. Call this periodically (e.g. from a ticker) from the
// same goroutine that calls RouteSource/RouteRepair, or guard with
// external synchronization — Reap itself is safe for concurrent use.
func (r *Router) Reap() {
	now := timeNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	for ssrc, sess := range r.sessions {
		if now.Sub(sess.lastSeen()) > r.idleTimeout {
			sess.Close()
			delete(r.sessions, ssrc)
			r.logger.Info("session destroyed (idle timeout)", "ssrc", ssrc)
		}
	}
	kept := r.repairBuf[:0]
	for _, br := range r.repairBuf {
		if br.deadline.Before(now) {
			br.pkt.Release()
			continue
		}
		kept = append(kept, br)
	}
	r.repairBuf = kept
}

// RunReaper periodically calls Reap until ctx is cancelled.
func (r *Router) RunReaper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Reap()
		}
	}
}

// timeNow is a package-level indirection so tests can substitute a
// deterministic clock.
var timeNow = time.Now
