// Package metrics exposes per-service Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// Service groups the collectors of one HTTP service.
type Service struct {
	registry *prometheus.Registry

	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Upstream *prometheus.CounterVec
}

// NewService registers fresh collectors under the scanasha_<name>_ prefix.
// Each service owns its registry so tests can build many of them.
func NewService(name string) *Service {
	reg := prometheus.NewRegistry()
	pre := "scanasha_" + name + "_"

	s := &Service{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    pre + "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: latencyBuckets,
		}, []string{"route"}),
		Upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "upstream_calls_total",
			Help: "Calls to LLMs, analyzers and peer services by target and outcome.",
		}, []string{"target", "outcome"}),
	}

	reg.MustRegister(
		s.Requests, s.Duration, s.Upstream,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Handler serves the registry in the text exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// ObserveUpstream counts one outbound call.
func (s *Service) ObserveUpstream(target string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.Upstream.WithLabelValues(target, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency labelled by route template.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.Duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// Mount attaches the middleware and GET /metrics to a router.
func (s *Service) Mount(r *mux.Router) {
	r.Use(s.Middleware)
	r.Handle("/metrics", s.Handler()).Methods(http.MethodGet)
}
