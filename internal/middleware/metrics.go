package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	requestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP responses with 4xx or 5xx status",
		},
		[]string{"method", "route", "status", "error_type"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Metrics records per-route request counts, error counts and latency
// into the given registry.
func Metrics(reg *prometheus.Registry) gin.HandlerFunc {
	reg.MustRegister(requestsTotal, requestErrorsTotal, requestDuration)

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)
		// Unmatched paths fall back to the raw URL so 404s still show up.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		method := c.Request.Method

		requestsTotal.WithLabelValues(method, route, statusStr).Inc()
		switch {
		case status >= 500:
			requestErrorsTotal.WithLabelValues(method, route, statusStr, "server").Inc()
		case status >= 400:
			requestErrorsTotal.WithLabelValues(method, route, statusStr, "client").Inc()
		}
		requestDuration.WithLabelValues(method, route, statusStr).Observe(time.Since(start).Seconds())
	}
}
