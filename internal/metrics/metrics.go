// Package metrics provides Prometheus instrumentation for the fraud
// scoring pipeline.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VerdictsTotal counts produced verdicts by risk level.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "verdicts_total",
			Help:      "Total fraud verdicts produced by risk level.",
		},
		[]string{"risk_level"},
	)

	// ScoreDuration observes end-to-end single-item scoring latency.
	ScoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "score_duration_seconds",
			Help:      "Scoring pipeline latency in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// BiometricAnomaliesTotal counts detected anomalies by channel and severity.
	BiometricAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "biometric_anomalies_total",
			Help:      "Total biometric anomalies detected by channel and severity.",
		},
		[]string{"channel", "severity"},
	)

	// ScoreFailuresTotal counts degraded or failed scoring attempts.
	ScoreFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudlens",
		Name:      "score_failures_total",
		Help:      "Total scoring attempts that failed or degraded to a default verdict.",
	})

	// FeedbackSubmissionsTotal counts accepted feedback records by label.
	FeedbackSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "feedback_submissions_total",
			Help:      "Total feedback records accepted by label.",
		},
		[]string{"label"},
	)

	// PendingReviews tracks the current pending-review queue depth.
	PendingReviews = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudlens",
		Name:      "pending_reviews",
		Help:      "Number of transactions awaiting human review.",
	})

	// UpdateQueueDepth tracks queued model updates.
	UpdateQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudlens",
		Name:      "update_queue_depth",
		Help:      "Number of scheduled model updates not yet executed.",
	})

	// ModelUpdatesTotal counts executed model updates by result.
	ModelUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "model_updates_total",
			Help:      "Total model update executions by result.",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts ops-server requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status bucket.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes ops-server request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		VerdictsTotal,
		ScoreDuration,
		BiometricAnomaliesTotal,
		ScoreFailuresTotal,
		FeedbackSubmissionsTotal,
		PendingReviews,
		UpdateQueueDepth,
		ModelUpdatesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not raw path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
