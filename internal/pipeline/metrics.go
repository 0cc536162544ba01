package pipeline

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes operational counters/gauges for an optional local
// /metrics endpoint (spec E3: "one ambient-observability surface the
// Non-goals do not exclude"). Non-goals bound region confidentiality, not
// operational visibility into the pipeline itself.
type Metrics struct {
	FramesProcessed prometheus.Counter
	RegionsSealed   prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "revanon_frames_processed_total",
			Help: "Frames written by the consumer stage across all jobs.",
		}),
		RegionsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "revanon_regions_sealed_total",
			Help: "Regions encrypted and obfuscated across all jobs.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "revanon_processed_queue_depth",
			Help: "Current number of frames buffered between worker and consumer stages.",
		}),
	}
	reg.MustRegister(m.FramesProcessed, m.RegionsSealed, m.QueueDepth)
	return m
}

// ServeMetrics starts a /metrics HTTP listener on addr in the background,
// the same http.NewServeMux + go http.ListenAndServe pattern cmd/plex-tuner
// uses for its own HTTP surface. A listen failure is logged, not fatal — the
// pipeline runs fine without metrics.
func ServeMetrics(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("pipeline: metrics listener on %s: %v", addr, err)
		}
	}()
}
