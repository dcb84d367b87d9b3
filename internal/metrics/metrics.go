package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "path"},
	)

	PollOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_store_operations_total",
			Help: "Total number of poll store operations",
		},
		[]string{"operation", "status"},
	)

	PollsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_store_polls",
			Help: "Number of polls held by the store",
		},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_hub_subscriptions",
			Help: "Number of live event hub subscriptions",
		},
		[]string{"topic"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_hub_published_total",
			Help: "Total number of events published to the hub",
		},
		[]string{"topic"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_hub_enqueued_total",
			Help: "Total number of events enqueued to subscriptions",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_hub_dropped_total",
			Help: "Total number of events dropped by the overflow policy",
		},
		[]string{"topic", "policy"},
	)

	RelayOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_relay_operations_total",
			Help: "Total number of events forwarded to an external broker",
		},
		[]string{"sink", "status"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"limiter"},
	)
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		method := c.Request.Method
		start := time.Now()

		ActiveRequests.WithLabelValues(method, path).Inc()
		defer ActiveRequests.WithLabelValues(method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		RequestDuration.WithLabelValues(method, path, status).Observe(duration)
		RequestTotal.WithLabelValues(method, path, status).Inc()
	}
}

func RecordPollOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PollOperations.WithLabelValues(operation, status).Inc()
}

func RecordRelay(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RelayOperations.WithLabelValues(sink, status).Inc()
}
