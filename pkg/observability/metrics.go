// Package observability holds the gateway's prometheus metrics and
// OpenTelemetry tracing setup.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/provider"
)

// Metrics groups every collector exported on /metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	admission     *prometheus.CounterVec
	generations   *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	batches       *prometheus.CounterVec
	providerCalls *prometheus.HistogramVec
	httpRequests  *prometheus.HistogramVec
	tracked       prometheus.GaugeFunc
}

// NewMetrics registers the collectors on a private registry. tracked, when
// non-nil, reports how many clients the admission controller holds.
func NewMetrics(tracked func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		admission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitoy_admission_decisions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"decision"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitoy_generations_total",
			Help: "Generation slots by mode and outcome.",
		}, []string{"mode", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitoy_tokens_charged_total",
			Help: "Tokens charged for successful generations.",
		}, []string{"mode"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitoy_batches_total",
			Help: "Batches by mode and verdict.",
		}, []string{"mode", "verdict"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitoy_provider_call_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"model", "outcome"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitoy_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.admission, m.generations, m.tokens, m.batches, m.providerCalls, m.httpRequests,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	if tracked != nil {
		m.tracked = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aitoy_admission_tracked_clients",
			Help: "Clients currently held by the admission controller.",
		}, func() float64 { return float64(tracked()) })
		reg.MustRegister(m.tracked)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAdmission counts one admission decision.
func (m *Metrics) ObserveAdmission(allowed bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	m.admission.WithLabelValues(decision).Inc()
}

// ObserveResult counts one generation slot and the tokens it was charged.
func (m *Metrics) ObserveResult(mode models.Mode, res models.GenerationResult) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = string(res.FailureKind)
		if outcome == "" {
			outcome = "failure"
		}
	}
	m.generations.WithLabelValues(string(mode), outcome).Inc()
	if res.TokensUsed > 0 {
		m.tokens.WithLabelValues(string(mode)).Add(float64(res.TokensUsed))
	}
}

// ObserveBatch counts a finished batch.
func (m *Metrics) ObserveBatch(b models.BatchResult) {
	if m == nil {
		return
	}
	verdict := "failure"
	switch {
	case b.Cancelled:
		verdict = "cancelled"
	case b.Succeeded():
		verdict = "success"
	}
	m.batches.WithLabelValues(string(b.Mode), verdict).Inc()
}

// ObserveProviderCall records the latency of one provider call.
func (m *Metrics) ObserveProviderCall(model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(model, outcome).Observe(d.Seconds())
}

// Middleware records request latency labelled with the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

type instrumented struct {
	next    provider.Provider
	metrics *Metrics
}

// Instrument wraps p so every call is timed into m.
func Instrument(p provider.Provider, m *Metrics) provider.Provider {
	if m == nil {
		return p
	}
	return &instrumented{next: p, metrics: m}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Ping(ctx context.Context) error { return provider.Ping(ctx, i.next) }

func (i *instrumented) Generate(ctx context.Context, prompt string) (*provider.Result, error) {
	start := time.Now()
	res, err := i.next.Generate(ctx, prompt)
	i.metrics.ObserveProviderCall(i.next.Name(), time.Since(start), err)
	return res, err
}

func (i *instrumented) GenerateWithReference(ctx context.Context, prompt string, image []byte, mimeType string) (*provider.Result, error) {
	start := time.Now()
	res, err := i.next.GenerateWithReference(ctx, prompt, image, mimeType)
	i.metrics.ObserveProviderCall(i.next.Name(), time.Since(start), err)
	return res, err
}
