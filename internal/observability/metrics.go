// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the agent loop and its backends.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted     prometheus.Counter
	RunsFinished    *prometheus.CounterVec
	StepsDecided    *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	ActionFailures  *prometheus.CounterVec
	DecisionLatency prometheus.Histogram
	DecisionErrors  prometheus.Counter
	SessionsActive  prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry so independent
// instances (one per process, or one per test) never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "director_runs_started_total",
			Help: "Total number of agent runs started",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "director_runs_finished_total",
			Help: "Agent runs by termination reason",
		}, []string{"termination"}),
		StepsDecided: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "director_steps_decided_total",
			Help: "Steps emitted to the stream, by tool",
		}, []string{"tool"}),
		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "director_action_duration_seconds",
			Help:    "Browser action latency by tool",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),
		ActionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "director_action_failures_total",
			Help: "Failed browser actions by tool and error code",
		}, []string{"tool", "code"}),
		DecisionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "director_decision_duration_seconds",
			Help:    "Latency of next-step decision requests",
			Buckets: prometheus.DefBuckets,
		}),
		DecisionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "director_decision_errors_total",
			Help: "Decision requests that failed or returned malformed output",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "director_browser_sessions_active",
			Help: "Remote browser sessions currently held open",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "director_http_requests_total",
			Help: "HTTP API requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunStarted() {
	if m != nil {
		m.RunsStarted.Inc()
	}
}

func (m *Metrics) RunFinished(termination string) {
	if m != nil {
		m.RunsFinished.WithLabelValues(termination).Inc()
	}
}

func (m *Metrics) StepDecided(tool string) {
	if m != nil {
		m.StepsDecided.WithLabelValues(tool).Inc()
	}
}

// ObserveAction records the outcome of one executor call. code is empty on success.
func (m *Metrics) ObserveAction(tool string, d time.Duration, code string) {
	if m == nil {
		return
	}
	m.ActionDuration.WithLabelValues(tool).Observe(d.Seconds())
	if code != "" {
		m.ActionFailures.WithLabelValues(tool, code).Inc()
	}
}

func (m *Metrics) ObserveDecision(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DecisionLatency.Observe(d.Seconds())
	if err != nil {
		m.DecisionErrors.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
}
