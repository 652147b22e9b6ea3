package metrics_test

import (
	"testing"

	"retailsync/internal/metrics"
)

func TestPrometheusSink_ImplementsSinkWithoutPanicking(t *testing.T) {
	var sink metrics.Sink = metrics.NewPrometheusSink()

	sink.IncProduct("created")
	sink.ObserveProductDuration(0.25)
	sink.IncInventory("failed")
	sink.IncOrder("Persisted")
	sink.IncRetryAttempt("commerce.CreateProduct")
	sink.SetRunSuccessRate("change-detect", 0.98)
	sink.SetCheckpointAgeSeconds("change-detect", 12.5)
}

func TestNopSink_ImplementsSink(t *testing.T) {
	var sink metrics.Sink = metrics.NopSink{}
	sink.IncProduct("created")
}
