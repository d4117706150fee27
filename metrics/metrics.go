// Package metrics provides Prometheus instrumentation for the storage
// engine's internals: transaction outcomes, GC-update-loop behavior,
// dirty-page and spill activity, and reader-slot occupancy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector registered for one environment. Callers
// obtain one via New, bound to their own *prometheus.Registry, so that
// multiple environments in a process never collide on metric names.
type Metrics struct {
	CommitsTotal   prometheus.Counter
	AbortsTotal    prometheus.Counter
	CommitLatency  prometheus.Histogram

	GCUpdateLoopIterations prometheus.Histogram
	PagesReclaimedTotal    prometheus.Counter

	DirtyPagesPerCommit prometheus.Histogram
	SpilledPagesTotal   prometheus.Counter

	ActiveReaderSlots        prometheus.Gauge
	StaleReaderReclaimsTotal prometheus.Counter
}

// New creates and registers every collector against reg. Never pass the
// global default registry — each *Env should own its own.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvengine_commits_total",
			Help: "Total number of committed write transactions.",
		}),
		AbortsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvengine_aborts_total",
			Help: "Total number of aborted transactions.",
		}),
		CommitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvengine_commit_latency_seconds",
			Help:    "Wall-clock latency of Txn.Commit calls.",
			Buckets: prometheus.DefBuckets,
		}),
		GCUpdateLoopIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvengine_gc_update_loop_iterations",
			Help:    "Number of iterations the GC update loop ran per commit.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		PagesReclaimedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvengine_pages_reclaimed_total",
			Help: "Total pages reused from the GC subtree by the allocator.",
		}),
		DirtyPagesPerCommit: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvengine_dirty_pages_per_commit",
			Help:    "Number of dirty pages written per commit.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		SpilledPagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvengine_spilled_pages_total",
			Help: "Total dirty pages moved into the spill buffer.",
		}),
		ActiveReaderSlots: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvengine_active_reader_slots",
			Help: "Number of occupied reader slots in the lock table.",
		}),
		StaleReaderReclaimsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvengine_stale_reader_reclaims_total",
			Help: "Total reader slots reclaimed from dead processes.",
		}),
	}
}
