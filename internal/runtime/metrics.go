package runtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the runtime's counters — dispatched events, recursion
// losses, poll-loop latency, installed watchpoints — as Prometheus
// collectors for an optional /metrics endpoint.
type Metrics struct {
	eventsTotal    prometheus.Counter
	lossTotal      prometheus.Counter
	pollLatency    prometheus.Histogram
	watchpointsSet prometheus.Gauge
}

// NewMetrics registers the dispatcher's counters against reg, if non-nil.
// Callers that only want the handler-side instrumentation (without
// exposing /metrics) may pass nil and skip registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bpftrace",
			Subsystem: "runtime",
			Name:      "events_total",
			Help:      "Total async-action events dispatched from the ring buffer.",
		}),
		lossTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bpftrace",
			Subsystem: "runtime",
			Name:      "loss_total",
			Help:      "Events dropped by the per-CPU recursion guard.",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bpftrace",
			Subsystem: "runtime",
			Name:      "poll_latency_seconds",
			Help:      "Time spent blocked in the ring-buffer poll.",
			Buckets:   prometheus.DefBuckets,
		}),
		watchpointsSet: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bpftrace",
			Subsystem: "runtime",
			Name:      "watchpoints_active",
			Help:      "Currently installed hardware watchpoints.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsTotal, m.lossTotal, m.pollLatency, m.watchpointsSet)
	}
	return m
}

// Registry returns a fresh *prometheus.Registry with m's collectors
// registered, suitable for mounting at an HTTP /metrics endpoint via
// promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.eventsTotal, m.lossTotal, m.pollLatency, m.watchpointsSet)
	return reg
}
