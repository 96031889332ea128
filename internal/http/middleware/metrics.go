package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Transport-level Prometheus collectors. Label cardinality stays bounded by
// using the registered Gin route as the path label; the domain-level ingest
// counters live in the ingest service and are exposed on the metrics
// overview endpoint instead.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	wsSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_ws_subscribers",
			Help: "Current number of WebSocket subscribers per channel.",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, wsSubscribers)
}

// SetSubscriberCount updates the per-channel subscriber gauge. Called by the
// broadcaster hub whenever a subscriber joins or is dropped.
func SetSubscriberCount(channel string, n int) {
	wsSubscribers.WithLabelValues(channel).Set(float64(n))
}

// Metrics instruments every request with the transport collectors. The path
// label uses c.FullPath() and falls back to the raw URL path when no route
// matched. Hijacked WebSocket connections report no response size, which is
// fine since only counts and latency are recorded here.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
