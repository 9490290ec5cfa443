// Package metrics exposes session and FEC counters via
// github.com/prometheus/client_golang, served over stdlib net/http at
// the configured --metrics-addr (spec.md §6). Counters are kept deliberately
// small: enough to see loss, recovery, and session churn at a glance,
// not a full tracing surface (observability depth beyond this is out of
// scope — see SPEC_FULL.md's Non-goals).
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the receiver's runtime counters and gauges.
type Registry struct {
	reg *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsDestroyed prometheus.Counter

	PacketsReceived  *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	FECBlocksRecovered prometheus.Counter
	FECBlocksLost      prometheus.Counter

	BufferedSampleFrames *prometheus.GaugeVec
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		SessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "sessions_active",
			Help:      "Number of receive sessions currently tracked.",
		}),
		SessionsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "sessions_created_total",
			Help:      "Total number of receive sessions created.",
		}),
		SessionsDestroyed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "sessions_destroyed_total",
			Help:      "Total number of receive sessions destroyed (idle timeout).",
		}),
		PacketsReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "packets_received_total",
			Help:      "Total packets received, labeled by stream (source, repair).",
		}, []string{"stream"}),
		PacketsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped, labeled by reason (malformed, stale, queue_full).",
		}, []string{"reason"}),
		FECBlocksRecovered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "fec",
			Name:      "blocks_recovered_total",
			Help:      "Total FEC blocks successfully reconstructed from a partial set of symbols.",
		}),
		FECBlocksLost: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "fec",
			Name:      "blocks_lost_total",
			Help:      "Total FEC blocks that never became decodable before being evicted from the window.",
		}),
		BufferedSampleFrames: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pulsewire",
			Subsystem: "receiver",
			Name:      "buffered_sample_frames",
			Help:      "Sample-frames currently buffered in a session's delayed reader, labeled by ssrc.",
		}, []string{"ssrc"}),
	}
	return r
}

// Handler returns the HTTP handler to serve at --metrics-addr's
// /metrics path.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics at addr until ctx is
// cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}
