// Package metrics wraps the engine's Prometheus instrumentation behind a
// Sink interface, the teacher's "depend on an interface, not the
// concrete type" convention (its OrderService interface over
// *orderService), applied here so the sync pipelines never import
// prometheus directly. The counters/histograms themselves are built with
// promauto.NewCounterVec/NewHistogramVec, the same package-level
// promauto-var idiom estuary-flow's network package uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the metrics surface every pipeline depends on (§7, §8).
type Sink interface {
	IncProduct(outcome string)
	ObserveProductDuration(seconds float64)
	IncInventory(outcome string)
	IncOrder(status string)
	IncRetryAttempt(op string)
	SetRunSuccessRate(job string, rate float64)
	SetCheckpointAgeSeconds(job string, seconds float64)
}

var (
	productOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailsync_product_sync_total",
		Help: "count of products processed by ProductSyncPipeline, by outcome",
	}, []string{"outcome"})

	productDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retailsync_product_sync_duration_seconds",
		Help:    "per-product ProductSyncPipeline step A-J duration",
		Buckets: prometheus.DefBuckets,
	}, []string{})

	inventoryOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailsync_inventory_set_total",
		Help: "count of inventory-on-hand set calls, by outcome",
	}, []string{"outcome"})

	orderOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailsync_order_ingest_total",
		Help: "count of OrderIngestPipeline runs, by terminal status",
	}, []string{"status"})

	runSuccessRateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retailsync_run_success_rate",
		Help: "success ratio of the most recent run, by job name",
	}, []string{"job"})

	checkpointAgeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retailsync_checkpoint_age_seconds",
		Help: "age of the last advanced watermark, by job name",
	}, []string{"job"})

	retryAttemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailsync_retry_attempts_total",
		Help: "count of RetryExecutor attempts, by operation name",
	}, []string{"op"})
)

// PrometheusSink is the production Sink, backed by the package-level
// promauto collectors above (registered once at import time against the
// default registry).
type PrometheusSink struct{}

// NewPrometheusSink builds a PrometheusSink.
func NewPrometheusSink() *PrometheusSink { return &PrometheusSink{} }

func (PrometheusSink) IncProduct(outcome string) { productOutcomeCounter.WithLabelValues(outcome).Inc() }

func (PrometheusSink) ObserveProductDuration(seconds float64) {
	productDurationHistogram.WithLabelValues().Observe(seconds)
}

func (PrometheusSink) IncInventory(outcome string) { inventoryOutcomeCounter.WithLabelValues(outcome).Inc() }

func (PrometheusSink) IncOrder(status string) { orderOutcomeCounter.WithLabelValues(status).Inc() }

func (PrometheusSink) IncRetryAttempt(op string) { retryAttemptCounter.WithLabelValues(op).Inc() }

func (PrometheusSink) SetRunSuccessRate(job string, rate float64) {
	runSuccessRateGauge.WithLabelValues(job).Set(rate)
}

func (PrometheusSink) SetCheckpointAgeSeconds(job string, seconds float64) {
	checkpointAgeGauge.WithLabelValues(job).Set(seconds)
}

// NopSink discards every observation, used by callers (tests, one-off
// CLI runs) that don't need a metrics backend wired up.
type NopSink struct{}

func (NopSink) IncProduct(string)                       {}
func (NopSink) ObserveProductDuration(float64)          {}
func (NopSink) IncInventory(string)                     {}
func (NopSink) IncOrder(string)                         {}
func (NopSink) IncRetryAttempt(string)                  {}
func (NopSink) SetRunSuccessRate(string, float64)       {}
func (NopSink) SetCheckpointAgeSeconds(string, float64) {}
