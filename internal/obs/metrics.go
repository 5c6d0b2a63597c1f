package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the API layer.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission evaluator decisions by permission key and outcome.",
		},
		[]string{"permission", "outcome"},
	)

	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_lifecycle_operations_total",
			Help: "User lifecycle operations by action and result.",
		},
		[]string{"action", "result"},
	)

	auditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit write failures by target (log or report).",
		},
		[]string{"target"},
	)

	storeLockTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_lock_timeouts_total",
		Help: "Tabular store lock acquisitions that exceeded the wait bound.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDecisions, lifecycleOps, auditWriteFailures, storeLockTimeouts,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthzDecision records an allow/deny outcome for a permission key.
func AuthzDecision(permission string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(permission, outcome).Inc()
}

// LifecycleOp records a lifecycle operation outcome.
func LifecycleOp(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	lifecycleOps.WithLabelValues(action, result).Inc()
}

// AuditWriteFailure records a failed audit append.
func AuditWriteFailure(target string) {
	auditWriteFailures.WithLabelValues(target).Inc()
}

// StoreLockTimeout records a bounded-wait lock timeout.
func StoreLockTimeout() {
	storeLockTimeouts.Inc()
}

// Instrument wraps an http.Handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
