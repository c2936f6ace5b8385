package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine and its workers emit.
type Metrics struct {
	// Engine core.
	EngineBlockHeight   prometheus.Gauge
	EngineSequence      prometheus.Gauge
	FundingAdjustments  *prometheus.CounterVec
	PositionsLiquidated *prometheus.CounterVec

	// Request routers.
	RequestsCreated   *prometheus.CounterVec
	RequestsExecuted  *prometheus.CounterVec
	RequestsCancelled *prometheus.CounterVec
	RequestQueueDepth *prometheus.GaugeVec

	// Order book.
	OrdersCreated   *prometheus.CounterVec
	OrdersExecuted  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec

	// Event fan-out.
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// Persistence.
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        prometheus.Counter
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// Projections.
	ProjectionEventsApplied *prometheus.CounterVec
	ProjectionUpdateDur     *prometheus.HistogramVec
	ProjectionWatermark     prometheus.Gauge

	// Query API.
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry.
func NewMetrics() *Metrics {
	writeBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		EngineBlockHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "equation_engine_block_height",
			Help: "Current internal block number",
		}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "equation_engine_sequence",
			Help: "Next event sequence the engine will assign",
		}),

		FundingAdjustments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_funding_adjustments_total",
			Help: "Funding rate windows closed and applied",
		}, []string{"pool_id"}),

		PositionsLiquidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_positions_liquidated_total",
			Help: "Positions forcibly closed",
		}, []string{"pool_id"}),

		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_requests_created_total",
			Help: "Delayed requests accepted into a queue",
		}, []string{"kind"}),

		RequestsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_requests_executed_total",
			Help: "Delayed requests executed",
		}, []string{"kind"}),

		RequestsCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_requests_cancelled_total",
			Help: "Delayed requests cancelled and refunded",
		}, []string{"kind"}),

		RequestQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "equation_request_queue_depth",
			Help: "Pending requests per queue",
		}, []string{"kind"}),

		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_orders_created_total",
			Help: "Trigger orders placed",
		}, []string{"order_type"}),

		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_orders_executed_total",
			Help: "Trigger orders executed",
		}, []string{"order_type"}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_orders_cancelled_total",
			Help: "Trigger orders cancelled",
		}, []string{"order_type"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "equation_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "equation_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "equation_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "equation_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "equation_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "equation_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "equation_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "equation_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: writeBuckets,
		}),

		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "equation_persist_errors_total",
			Help: "Persistence errors",
		}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "equation_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "equation_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_projection_events_applied_total",
			Help: "Events applied to projection tables",
		}, []string{"event_type"}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "equation_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: writeBuckets,
		}, []string{"event_type"}),

		ProjectionWatermark: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "equation_projection_watermark",
			Help: "Highest sequence applied to projections",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "equation_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "equation_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
