package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpInstruments *httpMetrics
)

func getHTTPMetrics() *httpMetrics {
	httpMetricsOnce.Do(func() {
		requests := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "washline_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"})
		duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "washline_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"})
		prometheus.MustRegister(requests, duration)
		httpInstruments = &httpMetrics{requests: requests, duration: duration}
	})
	return httpInstruments
}

// HTTPMiddleware records request counts and latency per route template.
func HTTPMiddleware() gin.HandlerFunc {
	m := getHTTPMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
