package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway collectors.
type Metrics struct {
	connections     prometheus.Gauge
	snapshotsSent   *prometheus.CounterVec
	slowClosed      prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duelpad",
			Subsystem: "gateway",
			Name:      "stream_connections",
			Help:      "Open document stream connections.",
		}),
		snapshotsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelpad",
			Subsystem: "gateway",
			Name:      "snapshots_sent_total",
			Help:      "Snapshots queued to stream connections.",
		}, []string{"collection"}),
		slowClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duelpad",
			Subsystem: "gateway",
			Name:      "slow_connections_closed_total",
			Help:      "Stream connections closed because their send buffer was full.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelpad",
			Subsystem: "gateway",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duelpad",
			Subsystem: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.connections, m.snapshotsSent, m.slowClosed, m.requests, m.requestDuration)
	return m
}

// Instrument records request counts and latency by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
