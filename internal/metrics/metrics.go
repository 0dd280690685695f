// Package metrics provides Prometheus instrumentation for the verification service.
package metrics

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nova",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsCreatedTotal counts verification sessions by risk level.
	SessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "sessions_created_total",
			Help:      "Total verification sessions created by risk level.",
		},
		[]string{"risk_level"},
	)

	// SessionsCompletedTotal counts sessions reaching a terminal state.
	SessionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "sessions_completed_total",
			Help:      "Total sessions by terminal status (verified, failed, timeout).",
		},
		[]string{"status"},
	)

	// ActiveSessions tracks sessions currently pending.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nova",
			Name:      "active_sessions",
			Help:      "Number of verification sessions currently pending.",
		},
	)

	// ChallengesGeneratedTotal counts challenge generations by source.
	ChallengesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "challenges_generated_total",
			Help:      "Total challenges generated by source (oracle or bank).",
		},
		[]string{"source"},
	)

	// AnswerVerificationsTotal counts answer checks by method and outcome.
	AnswerVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "answer_verifications_total",
			Help:      "Total answer verifications by matching method and outcome.",
		},
		[]string{"method", "correct"},
	)

	// OracleCallsTotal counts oracle round-trips by caller and result.
	OracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "oracle_calls_total",
			Help:      "Total oracle calls by call site and result (ok, error, unavailable).",
		},
		[]string{"site", "result"},
	)

	// OracleCallDuration observes oracle round-trip latency.
	OracleCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nova",
		Name:      "oracle_call_duration_seconds",
		Help:      "Oracle call duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// RaidsDetectedTotal counts raid-threshold trips.
	RaidsDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "raids_detected_total",
		Help:      "Total raid detections across all guilds.",
	})

	// BotBehaviorDetectedTotal counts sessions failed by the behavioral gate.
	BotBehaviorDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "bot_behavior_detected_total",
		Help:      "Total sessions failed by behavioral analysis after correct answers.",
	})

	// ActiveWebSocketClients tracks connected dashboard clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nova",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nova", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsCreatedTotal,
		SessionsCompletedTotal,
		ActiveSessions,
		ChallengesGeneratedTotal,
		AnswerVerificationsTotal,
		OracleCallsTotal,
		OracleCallDuration,
		RaidsDetectedTotal,
		BotBehaviorDetectedTotal,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// StartRuntimeCollector periodically samples the goroutine count into its
// Prometheus gauge. Call in a goroutine; exits when ctx is done.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records HTTP request metrics for gin.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
