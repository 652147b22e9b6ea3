package productsync_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailsync/internal/checkpoint"
	"retailsync/internal/clock"
	"retailsync/internal/commerce"
	"retailsync/internal/config"
	"retailsync/internal/domain"
	"retailsync/internal/metrics"
	"retailsync/internal/productsync"
	"retailsync/internal/ratelimit"
	"retailsync/internal/retry"
	"retailsync/internal/taxonomy"
)

// gqlRequest is the minimal shape every machinebox/graphql call sends.
type gqlRequest struct {
	Query string `json:"query"`
}

// routingServer dispatches each GraphQL call to a handler keyed by a
// substring of the operation name, mimicking a real COMMERCE endpoint
// closely enough for one pipeline run without a full schema mock.
func routingServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req gqlRequest
		require.NoError(t, json.Unmarshal(body, &req))

		for marker, resp := range routes {
			if containsOperation(req.Query, marker) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(resp))
				return
			}
		}
		t.Fatalf("no route matched query: %s", req.Query)
	}))
}

func containsOperation(query, marker string) bool {
	return len(query) > 0 && len(marker) > 0 && indexOf(query, marker) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func newTestPipeline(t *testing.T, server *httptest.Server) *productsync.Pipeline {
	t.Helper()
	return newTestPipelineWithSink(t, server, metrics.NopSink{})
}

// durationSpySink wraps NopSink to record how many ObserveProductDuration
// calls a run made, so tests can confirm the per-product A-J timer fires.
type durationSpySink struct {
	metrics.NopSink
	durations []float64
}

func (s *durationSpySink) ObserveProductDuration(seconds float64) {
	s.durations = append(s.durations, seconds)
}

func newTestPipelineWithSink(t *testing.T, server *httptest.Server, sink metrics.Sink) *productsync.Pipeline {
	t.Helper()

	limiter := ratelimit.New(1000, 1000, zap.NewNop())
	retryExec := retry.New(retry.Policy{MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0, Factor: 1}, nil, zap.NewNop())
	client, err := commerce.NewClient(config.CommerceConfig{
		ShopURL:    server.URL,
		Token:      "test-token",
		APIVersion: "2024-10",
	}, limiter, retryExec, zap.NewNop())
	require.NoError(t, err)

	resolver, err := taxonomy.NewResolver(100, time.Hour)
	require.NoError(t, err)

	progress := checkpoint.NewProgressCheckpointStore(t.TempDir(), zap.NewNop())

	return productsync.New(client, resolver, progress, sink, clock.NewMock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)), zap.NewNop(), productsync.Config{
		BatchSize:            5,
		MaxConcurrentBatches: 2,
		CheckpointInterval:   100,
	})
}

func oneVariantProduct(key string, qty int) domain.Product {
	return domain.Product{
		Key:   key,
		Title: "Basic Tee",
		Variants: []domain.Variant{
			{
				SKU:       "SKU-" + key,
				Option1:   "Azul",
				Option2:   "M",
				Price:     decimal.NewFromFloat(19.99),
				Inventory: map[string]int{"primary": qty},
				ItemID:    1,
				Familia:   "Camisetas",
				Categoria: "Ropa",
				Genero:    "H",
			},
		},
	}
}

var happyPathRoutes = map[string]string{
	"ProductByHandle":             `{"data":{"productByHandle":null}}`,
	"ProductCreate":                `{"data":{"productCreate":{"product":{"id":"gid://shop/Product/1"},"userErrors":[]}}}`,
	"VariantsBulkCreate":           `{"data":{"productVariantsBulkCreate":{"productVariants":[{"id":"gid://shop/ProductVariant/1","sku":"SKU-1","inventoryItem":{"id":"gid://shop/InventoryItem/1"}}],"userErrors":[]}}}`,
	"locations(first":              `{"data":{"locations":{"edges":[{"node":{"id":"gid://shop/Location/1","name":"Main","isActive":true}}]}}}`,
	"inventoryActivate":            `{"data":{"inventoryActivate":{"inventoryLevel":{"id":"gid://shop/InventoryLevel/1"},"userErrors":[]}}}`,
	"inventorySetOnHandQuantities": `{"data":{"inventorySetOnHandQuantities":{"userErrors":[]}}}`,
	"MetafieldsSet":                `{"data":{"metafieldsSet":{"userErrors":[]}}}`,
	"DiscountByTitle":              `{"data":{"discountNodes":{"edges":[]}}}`,
	"CollectionCreate":             `{"data":{"collectionCreate":{"collection":{"id":"gid://shop/Collection/1"},"userErrors":[]}}}`,
	"collectionAddProducts":        `{"data":{"collectionAddProducts":{"userErrors":[]}}}`,
}

func TestRun_CreatesNewProductEndToEnd(t *testing.T) {
	server := routingServer(t, happyPathRoutes)
	defer server.Close()

	pipeline := newTestPipeline(t, server)
	stats, results, err := pipeline.Run(
		context.Background(),
		"sync-1",
		[]domain.Product{oneVariantProduct("CC01", 10)},
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, productsync.OutcomeCreated, results[0].Outcome)
	require.Equal(t, 1, stats.Created)
	require.Equal(t, 0, stats.Errors)
	require.Equal(t, 1, stats.InventoryUpdated)
}

func TestRun_RecordsProductDurationPerProduct(t *testing.T) {
	server := routingServer(t, happyPathRoutes)
	defer server.Close()

	sink := &durationSpySink{}
	pipeline := newTestPipelineWithSink(t, server, sink)
	stats, _, err := pipeline.Run(
		context.Background(),
		"sync-duration",
		[]domain.Product{oneVariantProduct("CC05", 10)},
	)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Created)
	require.Len(t, sink.durations, 1, "ObserveProductDuration should fire once per product processed")
}

func TestRun_EmptyVariantsSkipsWithoutCallingCommerce(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	pipeline := newTestPipeline(t, server)
	stats, results, err := pipeline.Run(context.Background(), "sync-2", []domain.Product{{Key: "CC02", Title: "Empty"}})
	require.NoError(t, err)
	require.Equal(t, productsync.OutcomeSkippedEmpty, results[0].Outcome)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 0, calls)
}

func TestRun_ZeroStockNewProductIsSkipped(t *testing.T) {
	routes := map[string]string{
		"ProductByHandle": `{"data":{"productByHandle":null}}`,
	}
	server := routingServer(t, routes)
	defer server.Close()

	pipeline := newTestPipeline(t, server)
	stats, results, err := pipeline.Run(context.Background(), "sync-3", []domain.Product{oneVariantProduct("CC03", 0)})
	require.NoError(t, err)
	require.Equal(t, productsync.OutcomeSkippedZeroStock, results[0].Outcome)
	require.Equal(t, 1, stats.Skipped)
}

func TestRun_MetafieldFailureYieldsPartialNotError(t *testing.T) {
	routes := map[string]string{
		"ProductByHandle":        happyPathRoutes["ProductByHandle"],
		"ProductCreate":          happyPathRoutes["ProductCreate"],
		"VariantsBulkCreate":     happyPathRoutes["VariantsBulkCreate"],
		"locations(first":        happyPathRoutes["locations(first"],
		"inventoryActivate":      happyPathRoutes["inventoryActivate"],
		"inventorySetOnHandQuantities": happyPathRoutes["inventorySetOnHandQuantities"],
		"MetafieldsSet":          `{"data":{"metafieldsSet":{"userErrors":[{"field":["value"],"message":"invalid"}]}}}`,
		"DiscountByTitle":        happyPathRoutes["DiscountByTitle"],
		"CollectionCreate":       happyPathRoutes["CollectionCreate"],
		"collectionAddProducts":  happyPathRoutes["collectionAddProducts"],
	}
	server := routingServer(t, routes)
	defer server.Close()

	pipeline := newTestPipeline(t, server)
	stats, results, err := pipeline.Run(context.Background(), "sync-4", []domain.Product{oneVariantProduct("CC04", 5)})
	require.NoError(t, err)
	require.Equal(t, productsync.OutcomePartial, results[0].Outcome)
	require.Equal(t, 1, stats.Partial)
}

