// Package metrics exposes checkout, collaborator and HTTP metrics to Prometheus
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/zllovesuki/storecheckout/checkout"
	"github.com/zllovesuki/storecheckout/remote"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ checkout.Metrics = &Metrics{}

// Metrics holds the collectors of one registry
type Metrics struct {
	registry *prometheus.Registry

	submissions *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	calls       *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, along with the Go and process collectors
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Checkout submissions by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_step_duration_seconds",
			Help:      "Duration of each checkout step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "ok"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Duration of calls to collaborator services.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "code"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests received.",
		}, []string{"method", "path", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.steps,
		m.calls,
		m.requests,
		m.latency,
	)
	return m
}

// SubmissionFinished counts a submission with outcome completed, failed or noop
func (m *Metrics) SubmissionFinished(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// StepObserved records the duration of one checkout step
func (m *Metrics) StepObserved(step string, ok bool, elapsed time.Duration) {
	m.steps.WithLabelValues(step, strconv.FormatBool(ok)).Observe(elapsed.Seconds())
}

// Observer returns the hook collaborator clients report their calls to
func (m *Metrics) Observer() remote.Observer {
	return func(op string, statusCode int, elapsed time.Duration) {
		code := "error"
		if statusCode != 0 {
			code = strconv.Itoa(statusCode)
		}
		m.calls.WithLabelValues(op, code).Observe(elapsed.Seconds())
	}
}

// Middleware counts requests by route pattern, so path parameters do not explode the label space
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(r.Method, pattern, code).Inc()
		m.latency.WithLabelValues(r.Method, pattern, code).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
