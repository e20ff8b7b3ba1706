// Package metrics exposes Prometheus collectors for event writing and the
// HTTP query API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every collector name.
const DefaultNamespace = "tbprogress"

// Collectors groups the bridge's own collectors. A nil *Collectors is valid
// and records nothing, so callers never branch on whether metrics are on.
type Collectors struct {
	recordsTotal               prometheus.Counter
	recordBytesTotal           prometheus.Counter
	flushDurationSeconds       prometheus.Histogram
	writeErrorsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New registers the collectors against reg under namespace.
func New(reg prometheus.Registerer, namespace string) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collectors{
		recordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_records_total",
			Help:      "Total event records appended to event files.",
		}),
		recordBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_record_bytes_total",
			Help:      "Total framed bytes appended to event files.",
		}),
		flushDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_flush_duration_seconds",
			Help:      "Latency of event file buffer flushes.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		writeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Scalar writes that failed, labeled by the writing component.",
		}, []string{"component"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		c.recordsTotal,
		c.recordBytesTotal,
		c.flushDurationSeconds,
		c.writeErrorsTotal,
		c.httpRequestsTotal,
		c.httpRequestDurationSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return c, nil
}

// ObserveRecord counts one framed event record of n bytes.
func (c *Collectors) ObserveRecord(n int) {
	if c == nil {
		return
	}
	c.recordsTotal.Inc()
	c.recordBytesTotal.Add(float64(n))
}

// ObserveFlush records a buffer flush latency.
func (c *Collectors) ObserveFlush(d time.Duration) {
	if c == nil {
		return
	}
	c.flushDurationSeconds.Observe(d.Seconds())
}

// ObserveWriteError counts a failed scalar write for component.
func (c *Collectors) ObserveWriteError(component string) {
	if c == nil {
		return
	}
	c.writeErrorsTotal.WithLabelValues(component).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func (c *Collectors) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		c.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
