package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Business metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)

	inquiriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiries_submitted_total",
			Help: "Total number of accepted inquiry submissions",
		},
		[]string{"form_type"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification dispatch results",
		},
		[]string{"form_type", "status"},
	)

	mediaFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_files_total",
			Help: "Uploaded files stored or rolled back",
		},
		[]string{"purpose", "outcome"},
	)
)

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// RecordAuthAttempt records a login attempt.
func RecordAuthAttempt(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	authAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordInquiry records an accepted submission.
func RecordInquiry(formType string) {
	inquiriesTotal.WithLabelValues(formType).Inc()
}

// RecordNotification records the result of notifying about an inquiry.
func RecordNotification(formType string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	notificationsTotal.WithLabelValues(formType, status).Inc()
}

// RecordMediaStored records files written to disk.
func RecordMediaStored(purpose string, n int) {
	mediaFilesTotal.WithLabelValues(purpose, "stored").Add(float64(n))
}

// RecordMediaRolledBack records files removed after a failed request.
func RecordMediaRolledBack(purpose string, n int) {
	mediaFilesTotal.WithLabelValues(purpose, "rolled_back").Add(float64(n))
}
