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
			Name: "herald_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_created_total",
			Help: "Notification records created by channel and priority",
		},
		[]string{"channel", "priority"},
	)

	notificationsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_duplicate_total",
			Help: "Fan-out pairs skipped because the record already existed",
		},
		[]string{"channel"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_dispatched_total",
			Help: "Dispatch outcomes by terminal status and channel",
		},
		[]string{"status", "channel"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_delivery_latency_seconds",
			Help:    "Time spent in the channel sender",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	batchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_batch_runs_total",
			Help: "Batch sweeps by outcome",
		},
		[]string{"outcome"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_batch_eligible",
			Help:    "Pending low-priority notifications found per sweep",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	eventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_events_enqueued_total",
			Help: "Events handed to the queue for asynchronous fan-out",
		},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herald_circuit_breaker_state",
			Help: "Circuit breaker state by sender (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
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

// RecordNotificationCreated counts a newly created PENDING record
func RecordNotificationCreated(channel, priority string) {
	notificationsCreated.WithLabelValues(channel, priority).Inc()
}

// RecordNotificationDuplicate counts a fan-out pair that hit an existing record
func RecordNotificationDuplicate(channel string) {
	notificationsDuplicate.WithLabelValues(channel).Inc()
}

// RecordDispatch records the terminal status a dispatch produced
func RecordDispatch(status, channel string) {
	notificationsDispatched.WithLabelValues(status, channel).Inc()
}

// RecordDeliveryLatency records time spent inside a sender
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordBatchRun records one sweep. outcome is completed, skipped or error.
func RecordBatchRun(outcome string, eligible int) {
	batchRuns.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		batchSize.Observe(float64(eligible))
	}
}

// RecordEventEnqueued counts an event handed to SQS
func RecordEventEnqueued() {
	eventsEnqueued.Inc()
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
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetCircuitState publishes a breaker's state as its numeric value
func SetCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
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

// RoutePattern returns the matched chi route so path parameters do not
// explode label cardinality. Unmatched requests are grouped together.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, RoutePattern(r), wrapped.status, time.Since(start))
	})
}
