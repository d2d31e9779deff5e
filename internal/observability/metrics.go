package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendFlow.
type Metrics struct {
	// --- Operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Pool state ---
	PoolDeposits    prometheus.Gauge
	PoolBorrowed    prometheus.Gauge
	PoolShares      prometheus.Gauge
	PoolReserve     prometheus.Gauge
	PoolUtilization prometheus.Gauge

	// --- Loans & liquidation ---
	LoansOpened      prometheus.Counter
	LoansRepaid      prometheus.Counter
	LoansLiquidated  prometheus.Counter
	ShortfallTotal   prometheus.Counter
	LiquidatableScan prometheus.Histogram

	// --- Oracle ---
	PriceUpdates  *prometheus.CounterVec
	PriceRejected *prometheus.CounterVec

	// --- Event pipeline ---
	EventSequence        prometheus.Gauge
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PublishDrops         prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_ops_applied_total",
			Help: "Mutating operations committed, by operation",
		}, []string{"op"}),
		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_ops_rejected_total",
			Help: "Mutating operations rejected, by operation and reason",
		}, []string{"op", "reason"}),
		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lendflow_op_duration_seconds",
			Help:    "End-to-end duration of mutating operations",
			Buckets: opBuckets,
		}, []string{"op"}),

		PoolDeposits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_pool_deposits",
			Help: "Total pool deposits in smallest USDC units",
		}),
		PoolBorrowed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_pool_borrowed",
			Help: "Total borrowed in smallest USDC units",
		}),
		PoolShares: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_pool_shares",
			Help: "Total depositor shares outstanding",
		}),
		PoolReserve: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_pool_reserve",
			Help: "Protocol reserve balance in smallest USDC units",
		}),
		PoolUtilization: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_pool_utilization_ppm",
			Help: "Pool utilization rate, ppm",
		}),

		LoansOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_loans_opened_total",
			Help: "Loans originated",
		}),
		LoansRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_loans_repaid_total",
			Help: "Loans fully repaid",
		}),
		LoansLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_loans_liquidated_total",
			Help: "Loans liquidated",
		}),
		ShortfallTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_reserve_shortfall_total",
			Help: "Cumulative liquidation shortfall recorded against the reserve, smallest USDC units",
		}),
		LiquidatableScan: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lendflow_liquidation_scan_duration_seconds",
			Help:    "Duration of liquidation scans",
			Buckets: opBuckets,
		}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_price_updates_total",
			Help: "Accepted price feed updates, by asset",
		}, []string{"asset"}),
		PriceRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_price_rejected_total",
			Help: "Rejected price feed updates, by asset and reason",
		}, []string{"asset", "reason"}),

		EventSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lendflow_event_sequence",
			Help: "Current global event sequence",
		}),
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_persist_events_written_total",
			Help: "Events written to the Postgres event log",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_persist_errors_total",
			Help: "Persistence failures, by stage",
		}, []string{"stage"}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lendflow_persist_batch_duration_seconds",
			Help:    "Duration of event-log batch writes",
			Buckets: prometheus.DefBuckets,
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lendflow_persist_batch_size",
			Help:    "Events per batch write",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lendflow_publish_drops_total",
			Help: "Outbound events dropped on a full publish channel",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lendflow_http_requests_total",
			Help: "HTTP requests, by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lendflow_http_duration_seconds",
			Help:    "HTTP request duration, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
