package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradeflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gradeflow_sessions_created_total",
			Help: "Total number of grading sessions created",
		},
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeflow_session_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"status"},
	)

	ocrTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeflow_ocr_total",
			Help: "Text extractions by outcome",
		},
		[]string{"outcome"},
	)

	ocrDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradeflow_ocr_duration_seconds",
			Help:    "Text extraction duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	gradingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeflow_grading_total",
			Help: "Grading runs by outcome",
		},
		[]string{"outcome"},
	)

	gradingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradeflow_grading_duration_seconds",
			Help:    "Grading duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45, 60, 90},
		},
	)

	sweptSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gradeflow_swept_sessions_total",
			Help: "Expired sessions purged by the sweeper",
		},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionsCreatedTotal,
			sessionTransitionsTotal,
			ocrTotal,
			ocrDuration,
			gradingTotal,
			gradingDuration,
			sweptSessionsTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request counts and latency keyed by route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordSessionCreated() {
	sessionsCreatedTotal.Inc()
}

func RecordTransition(status string) {
	sessionTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordOCR(outcome string, duration time.Duration) {
	ocrTotal.WithLabelValues(outcome).Inc()
	ocrDuration.Observe(duration.Seconds())
}

func RecordGrading(outcome string, duration time.Duration) {
	gradingTotal.WithLabelValues(outcome).Inc()
	gradingDuration.Observe(duration.Seconds())
}

func RecordSwept(n int) {
	sweptSessionsTotal.Add(float64(n))
}
