package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow Executor metrics
	WorkflowsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_workflows_submitted_total",
			Help: "Total number of workflows submitted",
		},
	)

	WorkflowsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_workflows_completed_total",
			Help: "Total number of workflows completed by outcome",
		},
		[]string{"outcome"}, // succeeded, failed, cancelled
	)

	WorkflowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_workflow_duration_seconds",
			Help:    "End-to-end workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_tasks_dispatched_total",
			Help: "Total number of task dispatch attempts by outcome",
		},
		[]string{"outcome"}, // succeeded, failed, retried
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_task_duration_seconds",
			Help:    "Task execution duration in seconds, dispatch to terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resource Ledger metrics
	LedgerReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_ledger_reservations_total",
			Help: "Total number of ledger reserve calls by outcome",
		},
		[]string{"outcome"}, // granted, no_capacity
	)

	LedgerReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_ledger_releases_total",
			Help: "Total number of ledger releases by reason",
		},
		[]string{"reason"}, // committed, cancelled, timeout, provider_dead
	)

	ProviderAllocatedMilliCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_provider_allocated_millicpu",
			Help: "Currently allocated milli-CPU per provider",
		},
		[]string{"provider_id"},
	)

	ProviderAllocatedMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_provider_allocated_memory_bytes",
			Help: "Currently allocated memory bytes per provider",
		},
		[]string{"provider_id"},
	)

	// Peer Layer metrics
	PeerGossipRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_peer_gossip_rounds_total",
			Help: "Total number of gossip rounds pushed to peers",
		},
	)

	PeersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_peers_known",
			Help: "Number of peers currently considered alive",
		},
	)

	PeersDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_peers_dead_total",
			Help: "Total number of peers declared dead after missed gossip rounds",
		},
	)

	CatalogVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_catalog_version",
			Help: "This peer's own provider-catalog version counter",
		},
	)

	// Component Pool metrics
	ComponentPoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_component_pool_size",
			Help: "Number of components currently tracked by state",
		},
		[]string{"state"},
	)

	ComponentReuseHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_component_reuse_hits_total",
			Help: "Total number of scheduler reuse-pass hits",
		},
	)

	ColdStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_cold_start_duration_seconds",
			Help:    "Time from cold-start decision to READY handshake",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// Object Store metrics
	ObjectBytesSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_object_bytes_saved_total",
			Help: "Total bytes written to the object store",
		},
	)

	ObjectBytesFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_object_bytes_fetched_total",
			Help: "Total bytes served from the object store, local or cross-peer",
		},
	)

	ObjectFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_object_fetches_total",
			Help: "Total object fetches by source",
		},
		[]string{"source"}, // local, peer_cache, peer_remote
	)

	// Client API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_api_requests_total",
			Help: "Total number of client/peer API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Component Runtime metrics
	WorkerInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_worker_invocations_total",
			Help: "Total invocations handled by a component, by outcome",
		},
		[]string{"outcome"}, // ok, error
	)

	WorkerInvocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_worker_invocation_duration_seconds",
			Help:    "Time from INVOKE_REQUEST receipt to INVOKE_RESPONSE send",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkflowsSubmittedTotal,
		WorkflowsCompletedTotal,
		WorkflowDuration,
		TasksDispatchedTotal,
		TaskDuration,
		LedgerReservationsTotal,
		LedgerReleasesTotal,
		ProviderAllocatedMilliCPU,
		ProviderAllocatedMemoryBytes,
		PeerGossipRoundsTotal,
		PeersKnown,
		PeersDeadTotal,
		CatalogVersion,
		ComponentPoolSize,
		ComponentReuseHitsTotal,
		ColdStartDuration,
		ObjectBytesSavedTotal,
		ObjectBytesFetchedTotal,
		ObjectFetchesTotal,
		APIRequestsTotal,
		APIRequestDuration,
		WorkerInvocationsTotal,
		WorkerInvocationDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
