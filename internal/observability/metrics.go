// Package observability records operation timings and event counters.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder captures operation outcomes. Operation and event names are
// low-cardinality constants such as "query.news.list" or
// "commit.stage.copy".
type Recorder interface {
	// Observe records an operation outcome and its duration.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// Count increments an event counter with an outcome label.
	Count(ctx context.Context, event, outcome string)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Observe(context.Context, string, bool, time.Duration) {}
func (Noop) Count(context.Context, string, string)                {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}

// Prometheus publishes outcomes through a dedicated prometheus registry.
type Prometheus struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	events    *prometheus.CounterVec
}

// NewPrometheus constructs a recorder registered on its own registry along
// with the standard Go and process collectors.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "dataportal"
	}
	reg := prometheus.NewRegistry()
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of portal operations by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Portal events by outcome.",
	}, []string{"event", "outcome"})
	reg.MustRegister(
		durations,
		events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Prometheus{registry: reg, durations: durations, events: events}
}

// Observe implements Recorder.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	p.durations.WithLabelValues(operation, outcome(success)).Observe(duration.Seconds())
}

// Count implements Recorder.
func (p *Prometheus) Count(_ context.Context, event, outcome string) {
	if event == "" {
		return
	}
	p.events.WithLabelValues(event, outcome).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
