// Package metrics provides Prometheus metrics for draft bill runs and the
// HTTP API. Collector implements billing.Observer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/care-billing/generic"
)

const namespace = "care_billing"

// Collector holds all Prometheus metrics.
type Collector struct {
	// Run metrics
	Runs         *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	PricedEvents *prometheus.CounterVec
	Exhausted    *prometheus.CounterVec
	Failures     prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "draft_bill_runs_total",
				Help:      "Draft bill runs by result (ok, partial, error)",
			},
			[]string{"result"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "draft_bill_run_duration_seconds",
				Help:      "Draft bill run duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		PricedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "priced_events_total",
				Help:      "Events priced by service nature",
			},
			[]string{"nature"},
		),
		Exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "funding_exhausted_total",
				Help:      "Fundings exhausted during a run, by nature",
			},
			[]string{"nature"},
		),
		Failures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "draft_bill_failures_total",
				Help:      "Customers that could not be billed",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status class",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

func (c *Collector) EventPriced(nature generic.Nature) {
	c.PricedEvents.WithLabelValues(string(nature)).Inc()
}

func (c *Collector) FundingExhausted(nature generic.Nature) {
	c.Exhausted.WithLabelValues(string(nature)).Inc()
}

func (c *Collector) CustomerFailed() { c.Failures.Inc() }

func (c *Collector) RunFinished(result string, elapsed time.Duration) {
	c.Runs.WithLabelValues(result).Inc()
	c.RunDuration.Observe(elapsed.Seconds())
}

// StatusClass collapses an HTTP status into "2xx", "4xx", ...
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
