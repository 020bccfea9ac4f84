package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment gateway callbacks by provider status and outcome",
		},
		[]string{"status", "outcome"},
	)

	sweepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeout_sweep_transitions_total",
			Help: "Orders handled by the timeout sweeper",
		},
		[]string{"kind"},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_initiated_total",
			Help: "Refunds initiated by type and resulting status",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(callbacksTotal)
	prometheus.MustRegister(sweepTransitionsTotal)
	prometheus.MustRegister(refundsTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordCallback(status, outcome string) {
	callbacksTotal.WithLabelValues(status, outcome).Inc()
}

func RecordSweepTransition(kind string) {
	sweepTransitionsTotal.WithLabelValues(kind).Inc()
}

func RecordRefund(refundType, status string) {
	refundsTotal.WithLabelValues(refundType, status).Inc()
}
