package history

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordRelayLag(lag int)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}

func (n *NoOpMetricsCollector) RecordBatchProcessed(count int, duration time.Duration) {}

func (n *NoOpMetricsCollector) RecordRelayLag(lag int) {}

func (n *NoOpMetricsCollector) RecordPublishAttempt(eventType string, attempt int, success bool) {}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event Event) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(event.EventType, err == nil, time.Since(start))
	return err
}

// PrometheusMetrics implements MetricsCollector using Prometheus.
type PrometheusMetrics struct {
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	relayLag        prometheus.Gauge
	publishAttempts *prometheus.CounterVec
}

// NewPrometheusMetrics creates the relay collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		eventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "events_total",
			Help:      "Match history events processed by the relay.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "batch_size",
			Help:      "Pending history documents handled per poll.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "batch_duration_seconds",
			Help:      "Time spent handling one poll.",
			Buckets:   prometheus.DefBuckets,
		}),
		relayLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "pending",
			Help:      "History documents not yet relayed at the last poll.",
		}),
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelpad",
			Subsystem: "history_relay",
			Name:      "publish_attempts_total",
			Help:      "Publish attempts by attempt number.",
		}, []string{"event_type", "attempt", "status"}),
	}
	reg.MustRegister(
		m.eventCounter,
		m.eventDuration,
		m.batchSize,
		m.batchDuration,
		m.relayLag,
		m.publishAttempts,
	)
	return m
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(eventType, status(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRelayLag(lag int) {
	m.relayLag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(eventType string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(eventType, strconv.Itoa(attempt), status(success)).Inc()
}
