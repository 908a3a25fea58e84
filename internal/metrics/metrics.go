// Package metrics exposes the daemon's Prometheus surface. Updating the
// registry is always cheap and in-process; nothing listens on the network
// unless Serve is called.
package metrics

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the pipeline updates. One Registry per
// process, constructed once at startup and passed to the Orchestrator,
// AudioSource and Gate constructors, and to the StateMachine through
// SetMetrics.
type Registry struct {
	FramesTotal          prometheus.Counter
	SegmentsTotal        prometheus.Counter
	SegmentsDroppedTotal *prometheus.CounterVec
	TranscriptionsTotal  *prometheus.CounterVec
	DispatchesTotal      *prometheus.CounterVec
	ReconnectsTotal      prometheus.Counter
	State                prometheus.Gauge
	BufferedBytes        prometheus.Gauge

	reg *prometheus.Registry
}

// New builds a fresh Registry with all metrics registered under it.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yatagarasu_frames_total",
			Help: "PCM frames emitted by the frame aligner.",
		}),
		SegmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yatagarasu_segments_total",
			Help: "Speech segments finalized by the segmenter.",
		}),
		SegmentsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yatagarasu_segments_dropped_total",
			Help: "Segments dropped by the segment filter, by reason.",
		}, []string{"reason"}),
		TranscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yatagarasu_transcriptions_total",
			Help: "Transcription calls, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yatagarasu_dispatches_total",
			Help: "Dispatches to the downstream agent command, by result.",
		}, []string{"result"}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yatagarasu_reconnects_total",
			Help: "AudioSource reconnection attempts.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yatagarasu_state",
			Help: "State machine state: 0=OFF, 1=ON.",
		}),
		BufferedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yatagarasu_buffered_bytes",
			Help: "Bytes currently held in the frame aligner's partial-frame tail.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		r.FramesTotal, r.SegmentsTotal, r.SegmentsDroppedTotal,
		r.TranscriptionsTotal, r.DispatchesTotal, r.ReconnectsTotal,
		r.State, r.BufferedBytes,
	)
	return r
}

// Serve starts a loopback-only HTTP listener exposing /metrics. It blocks
// until the listener errors; the CLI runs it in its own goroutine since
// the main control loop stays single-threaded and cooperative. An addr
// whose host is not a loopback address is rejected with an error.
func (r *Registry) Serve(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("metrics: invalid listen address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("metrics: listen address %q is not a loopback address", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
