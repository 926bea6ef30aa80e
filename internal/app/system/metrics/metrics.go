// Package metrics exposes Prometheus counters for the auth service.
//
// Request metrics are labelled by namespace (auth, registration, or
// "other"), resolved through the route table rather than the raw path, so
// label cardinality stays fixed.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded with auth events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
)

// NamespaceOther labels requests outside every mounted namespace.
const NamespaceOther = "other"

// Resolver maps a path relative to the mount point to its namespace.
type Resolver func(path string) (string, bool)

// Registry holds the service's collectors. Each Registry owns its own
// prometheus.Registry so tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
	authEvents    *prometheus.CounterVec
	emailsSent    *prometheus.CounterVec
}

// New creates a Registry with all collectors registered, plus the Go and
// process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userauth_requests_total",
				Help: "Total number of HTTP requests by namespace, method and status.",
			},
			[]string{"namespace", "method", "status"},
		),
		latencyMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userauth_request_latency_ms",
				Help:    "Request latency in milliseconds.",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"namespace"},
		),
		authEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userauth_auth_events_total",
				Help: "Authentication events (login, logout, refresh, registration) by outcome.",
			},
			[]string{"event", "outcome"},
		),
		emailsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userauth_emails_sent_total",
				Help: "Outgoing e-mails by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
	r.reg.MustRegister(
		r.requestsTotal,
		r.latencyMs,
		r.authEvents,
		r.emailsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordAuthEvent counts one auth event.
func (r *Registry) RecordAuthEvent(event, outcome string) {
	if r == nil {
		return
	}
	r.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordEmail counts one outgoing e-mail.
func (r *Registry) RecordEmail(kind string, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.emailsSent.WithLabelValues(kind, outcome).Inc()
}

// RecordRequest counts one request.
func (r *Registry) RecordRequest(namespace, method string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(namespace, methodLabel(method), strconv.Itoa(status)).Inc()
	r.latencyMs.WithLabelValues(namespace).Observe(float64(latency.Microseconds()) / 1000)
}

// Middleware records every request under mountPath. Paths outside the
// mount point, or that resolve to no namespace, are counted as "other".
func (r *Registry) Middleware(mountPath string, resolve Resolver) func(http.Handler) http.Handler {
	mountPath = strings.TrimRight(mountPath, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			r.RecordRequest(namespaceFor(req.URL.Path, mountPath, resolve), req.Method, status, time.Since(start))
		})
	}
}

// methodLabel keeps the method label bounded; any method outside the
// standard set is counted as "OTHER".
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	}
	return "OTHER"
}

func namespaceFor(path, mountPath string, resolve Resolver) string {
	rel := path
	if mountPath != "" {
		if path != mountPath && !strings.HasPrefix(path, mountPath+"/") {
			return NamespaceOther
		}
		rel = strings.TrimPrefix(path, mountPath)
	}
	if resolve == nil {
		return NamespaceOther
	}
	if name, ok := resolve(rel); ok {
		return name
	}
	return NamespaceOther
}
