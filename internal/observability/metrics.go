package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sso_audit"

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	eventsRejected   *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
	storageErrors    *prometheus.CounterVec
	workflowsOpened  *prometheus.CounterVec
	workflowsClosed  *prometheus.CounterVec
	workflowsActive  prometheus.Gauge
	sessionsLive     prometheus.Gauge
	sessionSnapshots *prometheus.CounterVec
	writeQueueDepth  prometheus.Gauge
	writesDropped    prometheus.Counter
	flushDuration    prometheus.Histogram
	breakerState     prometheus.Gauge
	alertsRaised     *prometheus.CounterVec
}

// NewMetrics registers all instruments on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		eventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ingested_total",
			Help:      "Events accepted by the ingestion pipeline",
		}, []string{"event_category", "action_result"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rejected_total",
			Help:      "Events rejected before enrichment",
		}, []string{"reason"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ingest_duration_seconds",
			Help:      "Time spent ingesting one event including the durable write",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Persistence gateway failures",
		}, []string{"op", "kind"}),
		workflowsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflows",
			Name:      "opened_total",
			Help:      "Workflows started",
		}, []string{"workflow_type"}),
		workflowsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflows",
			Name:      "closed_total",
			Help:      "Workflows closed",
		}, []string{"workflow_type", "workflow_status"}),
		workflowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflows",
			Name:      "active",
			Help:      "Workflows currently active in memory",
		}),
		sessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions currently held in memory",
		}),
		sessionSnapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "snapshots_total",
			Help:      "Session snapshot writes by outcome",
		}, []string{"outcome"}),
		writeQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Pending write-behind jobs",
		}),
		writesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "dropped_total",
			Help:      "Write-behind jobs rejected because the queue was full or closed",
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "duration_seconds",
			Help:      "Duration of periodic flushes",
			Buckets:   prometheus.DefBuckets,
		}),
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "breaker_state",
			Help:      "Persistence circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		alertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Real-time alerts raised",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventIngested(category, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(category, result).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) StorageError(op string, retryable bool) {
	if m == nil {
		return
	}
	kind := "fatal"
	if retryable {
		kind = "retryable"
	}
	m.storageErrors.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) WorkflowOpened(workflowType string) {
	if m == nil {
		return
	}
	m.workflowsOpened.WithLabelValues(workflowType).Inc()
}

func (m *Metrics) WorkflowClosed(workflowType, status string) {
	if m == nil {
		return
	}
	m.workflowsClosed.WithLabelValues(workflowType, status).Inc()
}

// SetRegistrySizes records the in-memory registry sizes
func (m *Metrics) SetRegistrySizes(activeWorkflows, liveSessions int) {
	if m == nil {
		return
	}
	m.workflowsActive.Set(float64(activeWorkflows))
	m.sessionsLive.Set(float64(liveSessions))
}

func (m *Metrics) SessionSnapshot(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.sessionSnapshots.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.writeQueueDepth.Set(float64(depth))
}

func (m *Metrics) WriteDropped() {
	if m == nil {
		return
	}
	m.writesDropped.Inc()
}

func (m *Metrics) FlushCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(kind).Inc()
}
