// Package metrics exposes the Prometheus collectors the follower records
// against: per-shard lag, delivered transactions, reconciler table size, and
// sweep latency. The registry is a lazily-initialised singleton.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Follower struct {
	shardLag        *prometheus.GaugeVec
	deliveredTxs    *prometheus.CounterVec
	blocksProcessed *prometheus.CounterVec
	reconcilerSize  prometheus.Gauge
	reconcilerPrune prometheus.Counter
	sweepDuration   prometheus.Histogram
	gatewayErrors   *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Follower
)

// Registry returns the lazily-initialised follower metrics registry.
func Registry() *Follower {
	once.Do(func() {
		registry = &Follower{
			shardLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "shardfollower",
				Subsystem: "cursor",
				Name:      "lag_nonces",
				Help:      "Estimated tip nonce minus the last-processed nonce, per shard.",
			}, []string{"shard"}),
			deliveredTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shardfollower",
				Subsystem: "delivery",
				Name:      "transactions_total",
				Help:      "Transactions handed to the consumer callback, segmented by shard and path.",
			}, []string{"shard", "path"}),
			blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shardfollower",
				Subsystem: "cursor",
				Name:      "blocks_processed_total",
				Help:      "Blocks whose cursor advance completed, per shard.",
			}, []string{"shard"}),
			reconcilerSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "shardfollower",
				Subsystem: "reconciler",
				Name:      "entries",
				Help:      "Number of in-flight cross-shard reconciler entries.",
			}),
			reconcilerPrune: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shardfollower",
				Subsystem: "reconciler",
				Name:      "pruned_total",
				Help:      "Reconciler entries removed for exceeding the grace period.",
			}),
			sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "shardfollower",
				Subsystem: "orchestrator",
				Name:      "sweep_duration_seconds",
				Help:      "Wall-clock duration of a complete orchestrator sweep.",
				Buckets:   prometheus.DefBuckets,
			}),
			gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shardfollower",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Gateway client failures segmented by endpoint.",
			}, []string{"endpoint"}),
		}
		prometheus.MustRegister(
			registry.shardLag,
			registry.deliveredTxs,
			registry.blocksProcessed,
			registry.reconcilerSize,
			registry.reconcilerPrune,
			registry.sweepDuration,
			registry.gatewayErrors,
		)
	})
	return registry
}

// SetLag records the current estimated-tip-minus-cursor distance for a shard.
func (f *Follower) SetLag(shard string, lag int64) {
	if f == nil {
		return
	}
	f.shardLag.WithLabelValues(shard).Set(float64(lag))
}

// RecordDelivery increments the delivered-transaction counter for a shard
// and delivery path ("direct" or "reconciled").
func (f *Follower) RecordDelivery(shard, path string, count int) {
	if f == nil || count <= 0 {
		return
	}
	f.deliveredTxs.WithLabelValues(shard, path).Add(float64(count))
}

// RecordBlockProcessed increments the processed-block counter for a shard.
func (f *Follower) RecordBlockProcessed(shard string) {
	if f == nil {
		return
	}
	f.blocksProcessed.WithLabelValues(shard).Inc()
}

// SetReconcilerSize sets the current reconciler table size.
func (f *Follower) SetReconcilerSize(n int) {
	if f == nil {
		return
	}
	f.reconcilerSize.Set(float64(n))
}

// RecordPrune adds to the pruned-entries counter.
func (f *Follower) RecordPrune(n int) {
	if f == nil || n <= 0 {
		return
	}
	f.reconcilerPrune.Add(float64(n))
}

// ObserveSweep records the duration of one orchestrator sweep.
func (f *Follower) ObserveSweep(d time.Duration) {
	if f == nil {
		return
	}
	f.sweepDuration.Observe(d.Seconds())
}

// RecordGatewayError increments the gateway error counter for an endpoint.
func (f *Follower) RecordGatewayError(endpoint string) {
	if f == nil {
		return
	}
	f.gatewayErrors.WithLabelValues(endpoint).Inc()
}
