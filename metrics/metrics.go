package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "esgateway"

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Search engine request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of search engine requests",
		},
		[]string{"backend", "operation", "result"}, // "ok" / "error"
	)

	backendDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_documents_total",
			Help:      "Documents returned by searches or written by inserts",
		},
		[]string{"backend", "operation"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(backendRequestDuration)
	prometheus.MustRegister(backendRequestsTotal)
	prometheus.MustRegister(backendDocumentsTotal)
}

// Middleware records HTTP request duration and count per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := normalizePath(c.FullPath())
		method := c.Request.Method

		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}

// ObserveBackend records one call to the search engine.
func ObserveBackend(backend string, operation string, duration time.Duration, documents int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	backendRequestDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	backendRequestsTotal.WithLabelValues(backend, operation, result).Inc()
	if documents > 0 {
		backendDocumentsTotal.WithLabelValues(backend, operation).Add(float64(documents))
	}
}

// normalizePath keeps unmatched routes from creating one label per raw URL.
func normalizePath(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}
