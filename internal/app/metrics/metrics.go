package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "derivative_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "derivative_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "derivative_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	contractsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "derivative_layer",
			Subsystem: "contracts",
			Name:      "created_total",
			Help:      "Total number of contracts registered.",
		},
	)

	roundsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "derivative_layer",
			Subsystem: "evaluation",
			Name:      "rounds_total",
			Help:      "Total number of evaluation rounds dispatched.",
		},
	)

	fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "derivative_layer",
			Subsystem: "evaluation",
			Name:      "fulfillments_total",
			Help:      "Total number of fulfillment deliveries by outcome.",
		},
		[]string{"status"},
	)

	roundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "derivative_layer",
			Subsystem: "evaluation",
			Name:      "round_duration_seconds",
			Help:      "Time from round dispatch to finalization.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		contractsCreated,
		roundsDispatched,
		fulfillments,
		roundDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordContractCreated counts a successful contract registration.
func RecordContractCreated() {
	contractsCreated.Inc()
}

// RecordRoundDispatched counts a successful evaluation fan-out.
func RecordRoundDispatched() {
	roundsDispatched.Inc()
}

// RecordFulfillment counts a fulfillment delivery.
func RecordFulfillment(status string) {
	fulfillments.WithLabelValues(status).Inc()
}

// RecordRoundDuration observes the dispatch-to-finalization latency.
func RecordRoundDuration(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	roundDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "contracts" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/contracts"
	}
	if len(parts) == 2 {
		return "/contracts/:id"
	}
	return "/contracts/:id/" + parts[2]
}
