// Package metrics exports lifecycle counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tiermem"

// Metrics holds the lifecycle collectors.
type Metrics struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	directives     *prometheus.CounterVec
	accesses       prometheus.Counter
	trackerErrors  prometheus.Counter
	prompts        *prometheus.CounterVec
	promotions     *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	flushedRecords prometheus.Counter
	flushFailures  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	sweepDeletes   *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
}

// New registers all collectors on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by route and tier.",
		}, []string{"route", "tier"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Detected user directives by action.",
		}, []string{"action"}),
		accesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_events_total",
			Help:      "Applied access-tracking events.",
		}),
		trackerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tracking_errors_total",
			Help:      "Access-tracking attempts that failed and were retried or logged.",
		}),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_prompts_total",
			Help:      "Promotion prompts issued by current tier.",
		}, []string{"tier"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Accepted tier promotions.",
		}, []string{"from", "to", "initiator"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch queue flushes by trigger.",
		}, []string{"trigger"}),
		flushedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushed_records_total",
			Help:      "Records indexed through batch flushes.",
		}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flush_failures_total",
			Help:      "Batch flushes that failed and were requeued, by trigger.",
		}, []string{"trigger"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_queue_depth",
			Help:      "Items waiting in each agent's batch queue.",
		}, []string{"agent_id"}),
		sweepDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deletions_total",
			Help:      "Records removed by the decay sweep, by tier and reason.",
		}, []string{"tier", "reason"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of decay sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.decisions, m.directives, m.accesses, m.trackerErrors, m.prompts,
		m.promotions, m.flushes, m.flushedRecords, m.flushFailures, m.queueDepth,
		m.sweepDeletes, m.sweepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Decision(route string, tier int) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(route, strconv.Itoa(tier)).Inc()
}

func (m *Metrics) Directive(action string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(action).Inc()
}

func (m *Metrics) Access() {
	if m == nil {
		return
	}
	m.accesses.Inc()
}

func (m *Metrics) TrackerError() {
	if m == nil {
		return
	}
	m.trackerErrors.Inc()
}

func (m *Metrics) Prompt(tier int) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(strconv.Itoa(tier)).Inc()
}

func (m *Metrics) Promotion(from, to int, initiator string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to), initiator).Inc()
}

// Flush records one batch flush of n records.
func (m *Metrics) Flush(trigger string, n int) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(trigger).Inc()
	m.flushedRecords.Add(float64(n))
}

// FlushFailure records a flush whose batch went back on the queue.
func (m *Metrics) FlushFailure(trigger string) {
	if m == nil {
		return
	}
	m.flushFailures.WithLabelValues(trigger).Inc()
}

func (m *Metrics) QueueDepth(agentID string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(agentID).Set(float64(n))
}

func (m *Metrics) SweepDeletion(tier int, reason string) {
	if m == nil {
		return
	}
	m.sweepDeletes.WithLabelValues(strconv.Itoa(tier), reason).Inc()
}

func (m *Metrics) SweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}
