package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the connection.",
		},
		[]string{"role", "type"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Frames written to the connection.",
		},
		[]string{"role", "type"},
	)
	parseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "parse_errors_total",
			Help:      "Malformed frames skipped on receive.",
		},
		[]string{"role"},
	)
	orphanedReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "orphaned_replies_total",
			Help:      "Replies that arrived for an abandoned channel.",
		},
		[]string{"role"},
	)
	handlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "handler_errors_total",
			Help:      "Handler invocations that produced an error reply.",
		},
		[]string{"role", "type"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Registered channels awaiting a reply.",
		},
		[]string{"role"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "sessions_active",
			Help:      "Open transport sessions.",
		},
		[]string{"role"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extbridge",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Time from request submit to reply or rejection.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "type", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesReceived,
			framesSent,
			parseErrors,
			orphanedReplies,
			handlerErrors,
			pendingRequests,
			activeSessions,
			requestDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameReceived(role, messageType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(role, messageType).Inc()
}

func RecordFrameSent(role, messageType string) {
	RegisterMetrics()
	framesSent.WithLabelValues(role, messageType).Inc()
}

func RecordParseError(role string) {
	RegisterMetrics()
	parseErrors.WithLabelValues(role).Inc()
}

func RecordOrphanedReply(role string) {
	RegisterMetrics()
	orphanedReplies.WithLabelValues(role).Inc()
}

func RecordHandlerError(role, messageType string) {
	RegisterMetrics()
	handlerErrors.WithLabelValues(role, messageType).Inc()
}

func AddPendingRequests(role string, delta int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(role).Add(float64(delta))
}

func AddActiveSessions(role string, delta int) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Add(float64(delta))
}

func RecordRequest(role, messageType, outcome string, duration time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(role, messageType, outcome).Observe(duration.Seconds())
}
