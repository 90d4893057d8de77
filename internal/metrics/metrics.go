package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinigraph_messages_enqueued_total",
		Help: "Total number of envelopes placed on the dispatch queue.",
	})

	MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinigraph_messages_processed_total",
		Help: "Total number of envelopes written to the graph.",
	})

	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinigraph_messages_failed_total",
		Help: "Total number of envelopes that failed, labelled by error kind.",
	}, []string{"kind"})

	RelationshipsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinigraph_relationships_created_total",
		Help: "Total number of relationships counted under the configured policy.",
	})

	EntityWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinigraph_entity_writes_total",
		Help: "Total number of graph writes, labelled by entity type and status.",
	}, []string{"entity_type", "status"})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinigraph_processing_duration_ms",
		Help:    "Per-envelope decode + write latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinigraph_queue_utilization_ratio",
		Help: "Current dispatch queue utilization (0 to 1).",
	})

	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinigraph_published_messages_total",
		Help: "Total number of records published, labelled by status.",
	}, []string{"status"})

	PublishBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinigraph_publish_batch_duration_ms",
		Help:    "Time for a publish batch to receive every acknowledgement.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})
)
