// Package metrics declares the Prometheus instruments for the feed cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshesTotal counts refresh cycles by trigger.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "refreshes_total",
			Help:      "Refresh cycles executed, labeled by trigger.",
		},
		[]string{"trigger"}, // scheduled | forced | timezone
	)

	// FallbacksTotal counts content reads by the fallback source that served them.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "content_reads_total",
			Help:      "Content reads, labeled by fallback kind.",
		},
		[]string{"kind"},
	)

	// InteractionsEnqueuedTotal counts interactions accepted into the offline queue.
	InteractionsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "interactions_enqueued_total",
			Help:      "Interactions accepted into the offline sync queue.",
		},
	)

	// InteractionsDeliveredTotal counts successful replays.
	InteractionsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "interactions_delivered_total",
			Help:      "Interactions delivered and removed from the queue.",
		},
	)

	// DeliveryFailuresTotal counts failed delivery attempts.
	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "delivery_failures_total",
			Help:      "Replay delivery attempts that failed.",
		},
	)

	// DeadLetteredTotal counts interactions moved aside after the attempt ceiling.
	DeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "interactions_dead_lettered_total",
			Help:      "Interactions moved to the dead-letter list.",
		},
	)

	// QueueLength tracks the pending queue depth after each queue mutation.
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "todayfeed",
			Name:      "sync_queue_length",
			Help:      "Pending interactions in the offline sync queue.",
		},
	)

	// CacheSizeBytes tracks the total persisted content size.
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "todayfeed",
			Name:      "cache_size_bytes",
			Help:      "Total size of cached content slots and history.",
		},
	)

	// InvalidationsTotal counts cache invalidations by reason.
	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "todayfeed",
			Name:      "invalidations_total",
			Help:      "Cache invalidations, labeled by reason.",
		},
		[]string{"reason"},
	)
)
