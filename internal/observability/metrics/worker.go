package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

var _ ports.PipelineMetrics = (*WorkerMetrics)(nil)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	attemptTotal    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	attemptQuality  *prometheus.HistogramVec
	itemTotal       *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec
	itemsInFlight   prometheus.Gauge
	queueDepth      prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	attemptTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "attempt_total",
			Help:      "Strategy attempts by method and outcome.",
		},
		[]string{"service", "method", "outcome"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "attempt_duration_seconds",
			Help:      "Strategy attempt duration in seconds by method.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 240, 480},
		},
		[]string{"service", "method"},
	)
	attemptQuality := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "attempt_quality",
			Help:      "Overall quality score of strategy attempts by method.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"service", "method"},
	)
	itemTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "item_total",
			Help:      "Finished batch item runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "item_duration_seconds",
			Help:      "Batch item run duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"service", "outcome"},
	)
	itemsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "items_in_flight",
			Help:      "Number of batch items currently being converted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docconv",
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Number of batch items waiting for a worker.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(attemptTotal, attemptDuration, attemptQuality, itemTotal, itemDuration, itemsInFlight, queueDepth)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		attemptTotal:    attemptTotal,
		attemptDuration: attemptDuration,
		attemptQuality:  attemptQuality,
		itemTotal:       itemTotal,
		itemDuration:    itemDuration,
		itemsInFlight:   itemsInFlight,
		queueDepth:      queueDepth,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveAttempt(method domain.Method, outcome string, elapsed time.Duration, overall float64) {
	m.attemptTotal.WithLabelValues(m.service, string(method), outcome).Inc()
	m.attemptDuration.WithLabelValues(m.service, string(method)).Observe(elapsed.Seconds())
	m.attemptQuality.WithLabelValues(m.service, string(method)).Observe(overall)
}

func (m *WorkerMetrics) ItemStarted() {
	m.itemsInFlight.Inc()
}

func (m *WorkerMetrics) ItemFinished(outcome string, elapsed time.Duration) {
	m.itemsInFlight.Dec()
	m.itemTotal.WithLabelValues(m.service, outcome).Inc()
	m.itemDuration.WithLabelValues(m.service, outcome).Observe(elapsed.Seconds())
}

func (m *WorkerMetrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
