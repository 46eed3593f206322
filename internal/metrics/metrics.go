package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alerts_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	alertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_dispatched_total",
			Help: "Alert dispatch runs by outcome",
		},
		[]string{"outcome"},
	)

	phonesResolved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alerts_phones_resolved",
			Help:    "Unique phone numbers resolved per dispatch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	resolverFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_resolver_failures_total",
			Help: "Audience resolver failures by receiver category",
		},
		[]string{"receiver"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_message_submissions_total",
			Help: "Outbound message submissions by outcome",
		},
		[]string{"outcome"},
	)

	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_messages_processed_total",
			Help: "Messages processed by the delivery worker by status",
		},
		[]string{"status", "channel"},
	)

	messageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alerts_message_latency_seconds",
			Help:    "Time from enqueue to delivery",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"channel"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDispatch records the outcome of one dispatch run
func RecordDispatch(outcome string) {
	alertsDispatched.WithLabelValues(outcome).Inc()
}

// RecordPhonesResolved records the audience size of a dispatch
func RecordPhonesResolved(count int) {
	phonesResolved.Observe(float64(count))
}

// RecordResolverFailure records a failed audience lookup
func RecordResolverFailure(receiver string) {
	resolverFailures.WithLabelValues(receiver).Inc()
}

// RecordSubmission records one queue submission result
func RecordSubmission(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	submissions.WithLabelValues(outcome).Inc()
}

// RecordMessageProcessed records a delivery attempt result
func RecordMessageProcessed(status, channel string) {
	messagesProcessed.WithLabelValues(status, channel).Inc()
}

// RecordMessageLatency records end-to-end message delivery time
func RecordMessageLatency(channel string, latency time.Duration) {
	messageLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
