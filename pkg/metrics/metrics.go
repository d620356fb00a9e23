package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the conversion pipeline collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	activeJobs     prometheus.Gauge
	queueWait      prometheus.Histogram
	encodeDuration *prometheus.HistogramVec
	outputSize     prometheus.Histogram
	fallbacks      *prometheus.CounterVec
	cleanupFails   *prometheus.CounterVec
	encoderUsable  *prometheus.GaugeVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		jobsSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mp4fit_jobs_submitted_total",
				Help: "Conversion jobs accepted by the orchestrator",
			},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4fit_jobs_finished_total",
				Help: "Conversion jobs that reached a terminal state",
			},
			[]string{"outcome", "kind"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mp4fit_active_jobs",
				Help: "Jobs currently registered (queued or running)",
			},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mp4fit_queue_wait_seconds",
				Help:    "Time a job waited for a worker slot",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		encodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mp4fit_encode_duration_seconds",
				Help:    "Wall-clock duration of successful encodes",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"encoder"},
		),
		outputSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mp4fit_output_size_bytes",
				Help:    "Size of produced artifacts",
				Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12),
			},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4fit_hw_fallbacks_total",
				Help: "Encodes retried in software after a hardware driver failure",
			},
			[]string{"from"},
		),
		cleanupFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4fit_cleanup_failures_total",
				Help: "File removals or copies that failed during cleanup",
			},
			[]string{"stage"},
		),
		encoderUsable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mp4fit_encoder_usable",
				Help: "1 if the encoder passed the functional test, 0 otherwise",
			},
			[]string{"encoder"},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.activeJobs,
		m.queueWait,
		m.encodeDuration,
		m.outputSize,
		m.fallbacks,
		m.cleanupFails,
		m.encoderUsable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry (tests, custom exposition)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobSubmitted records an accepted job and raises the active gauge
func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
	m.activeJobs.Inc()
}

// JobFinished records a terminal outcome and lowers the active gauge
func (m *Metrics) JobFinished(succeeded bool, kind string) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
		kind = ""
	}
	m.jobsFinished.WithLabelValues(outcome, kind).Inc()
	m.activeJobs.Dec()
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveEncode(encoder string, d time.Duration) {
	if m == nil {
		return
	}
	m.encodeDuration.WithLabelValues(encoder).Observe(d.Seconds())
}

func (m *Metrics) ObserveOutputSize(bytes int64) {
	if m == nil {
		return
	}
	m.outputSize.Observe(float64(bytes))
}

// HardwareFallback counts a hardware to software downgrade
func (m *Metrics) HardwareFallback(from string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from).Inc()
}

// CleanupFailure counts a failed removal or copy; stage names the step
func (m *Metrics) CleanupFailure(stage string) {
	if m == nil {
		return
	}
	m.cleanupFails.WithLabelValues(stage).Inc()
}

// SetEncoderUsable publishes the functional test results. Encoders
// missing from usable are reported as 0.
func (m *Metrics) SetEncoderUsable(advertised []string, usable map[string]bool, software string) {
	if m == nil {
		return
	}
	m.encoderUsable.Reset()
	for _, enc := range advertised {
		v := 0.0
		if usable[enc] {
			v = 1
		}
		m.encoderUsable.WithLabelValues(enc).Set(v)
	}
	if software != "" {
		m.encoderUsable.WithLabelValues(software).Set(1)
	}
}
