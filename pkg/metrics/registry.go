// Package metrics defines vigil's Prometheus metric handles as fields on a
// constructor-built Registry rather than as package-level globals. The
// teacher repo's pkg/metrics/metrics.go uses package-level `var (...)`
// vecs; that pattern is the global-mutable-counter anti-pattern SPEC_FULL.md
// §9 calls out for redesign, so every component here receives its own
// handles through its constructor instead of reaching for a singleton.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric handle vigil's components need. Callers
// register it with a prometheus.Registerer once at process startup and
// pass the Registry itself into component constructors.
type Registry struct {
	IngestRecordsTotal   *prometheus.CounterVec
	IngestErrorsTotal    *prometheus.CounterVec
	IngestBytesTotal     prometheus.Counter

	PersistJobsSubmitted   prometheus.Counter
	PersistQueueLength     prometheus.Gauge
	PersistBatchFlushes    prometheus.Counter
	PersistBatchFailures   prometheus.Counter
	PersistPerItemFailures prometheus.Counter
	PersistBatchLatencyMs  prometheus.Histogram
	PersistSubmitRejected  *prometheus.CounterVec

	SyncPushesTotal       *prometheus.CounterVec
	SyncPullsTotal        *prometheus.CounterVec
	SyncAuthFailures      *prometheus.CounterVec
	SyncReconnects        *prometheus.CounterVec
	SyncPeerWatermark     *prometheus.GaugeVec
	SyncHeartbeatRTTMs    *prometheus.HistogramVec
}

// New builds a Registry. Call MustRegister to attach it to a
// prometheus.Registerer; New itself performs no registration so tests can
// build registries without a global side effect.
func New() *Registry {
	return &Registry{
		IngestRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_ingest_records_total",
			Help: "Normalized records ingested, by field type.",
		}, []string{"field_type"}),
		IngestErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_ingest_errors_total",
			Help: "Ingest errors, by error kind.",
		}, []string{"kind"}),
		IngestBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_ingest_bytes_total",
			Help: "Raw bytes accepted by the ingest surface.",
		}),

		PersistJobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_persist_jobs_submitted_total",
			Help: "Persistence jobs submitted to the batcher.",
		}),
		PersistQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_persist_queue_length",
			Help: "Current depth of the persistence batcher's pending queue.",
		}),
		PersistBatchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_persist_batch_flushes_total",
			Help: "Persistence batches flushed to the graph store.",
		}),
		PersistBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_persist_batch_failures_total",
			Help: "Persistence batches that failed as a whole.",
		}),
		PersistPerItemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_persist_per_item_failures_total",
			Help: "Per-item persistence failures after a batch fallback.",
		}),
		PersistBatchLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_persist_batch_flush_latency_ms",
			Help:    "Persistence batch flush latency in milliseconds.",
			Buckets: prometheus.DefBuckets,
		}),
		PersistSubmitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_persist_submit_rejected_total",
			Help: "Submit calls rejected, by reason (queue_full, queue_closed).",
		}, []string{"reason"}),

		SyncPushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_sync_pushes_total",
			Help: "Replication pushes attempted, by peer.",
		}, []string{"peer"}),
		SyncPullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_sync_pulls_total",
			Help: "Replication pulls attempted, by peer.",
		}, []string{"peer"}),
		SyncAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_sync_auth_failures_total",
			Help: "Replication authentication failures, by peer.",
		}, []string{"peer"}),
		SyncReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_sync_reconnects_total",
			Help: "Replication reconnect attempts, by peer.",
		}, []string{"peer"}),
		SyncPeerWatermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_sync_peer_watermark_unix_seconds",
			Help: "Per-peer pull watermark, as a Unix timestamp.",
		}, []string{"peer"}),
		SyncHeartbeatRTTMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_sync_heartbeat_rtt_ms",
			Help:    "Replication heartbeat round-trip time in milliseconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"peer"}),
	}
}

// MustRegister registers every handle on reg with r. Panics on collision,
// matching prometheus.MustRegister's own contract.
func (reg *Registry) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		reg.IngestRecordsTotal, reg.IngestErrorsTotal, reg.IngestBytesTotal,
		reg.PersistJobsSubmitted, reg.PersistQueueLength, reg.PersistBatchFlushes,
		reg.PersistBatchFailures, reg.PersistPerItemFailures, reg.PersistBatchLatencyMs,
		reg.PersistSubmitRejected,
		reg.SyncPushesTotal, reg.SyncPullsTotal, reg.SyncAuthFailures,
		reg.SyncReconnects, reg.SyncPeerWatermark, reg.SyncHeartbeatRTTMs,
	)
}
