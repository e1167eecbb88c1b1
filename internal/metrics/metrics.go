// Package metrics exposes Prometheus collectors for the command pipeline and
// client sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "cardhub_"

// Recorder owns the service collectors. A nil *Recorder records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	cancellations   *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// NewRecorder creates the collectors and registers them on a fresh registry
// that also carries the Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRecorder(reg, reg)
}

func newRecorder(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	r := &Recorder{
		gatherer: g,
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total processed commands by kind and result",
			},
			[]string{"kind", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_duration_seconds",
				Help:    "Command processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Commands waiting in the queue",
			},
		),
		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cancellations_total",
				Help: "Total cancellations by source",
			},
			[]string{"source"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions",
				Help: "Connected client sessions",
			},
		),
	}
	reg.MustRegister(r.commandsTotal, r.commandDuration, r.queueDepth, r.cancellations, r.sessions)
	return r
}

// ObserveCommand records one processed command.
func (r *Recorder) ObserveCommand(kind, result string, latency time.Duration) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(kind, result).Inc()
	r.commandDuration.WithLabelValues(kind).Observe(latency.Seconds())
}

// SetQueueDepth records the number of queued commands.
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// IncCancellation counts a cancellation from source.
func (r *Recorder) IncCancellation(source string) {
	if r == nil {
		return
	}
	r.cancellations.WithLabelValues(source).Inc()
}

// SetSessions records the number of connected sessions.
func (r *Recorder) SetSessions(n int) {
	if r == nil {
		return
	}
	r.sessions.Set(float64(n))
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
