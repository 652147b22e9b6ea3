// Package productsync runs the per-product A-J pipeline of §4.12 over a
// batch of domain.Product aggregates, bounding concurrent batches with a
// golang.org/x/sync/semaphore weighted semaphore — the teacher's own
// go.mod already pulls in golang.org/x/sync indirectly; this is where it
// earns a direct import.
package productsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"retailsync/internal/checkpoint"
	"retailsync/internal/clock"
	"retailsync/internal/commerce"
	"retailsync/internal/domain"
	"retailsync/internal/metrics"
	"retailsync/internal/taxonomy"
	"retailsync/internal/variant"
)

// Outcome is the per-product terminal state of one pipeline run (§4.12,
// §7).
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeUpdated          Outcome = "updated"
	OutcomeSkippedEmpty     Outcome = "skipped_empty"
	OutcomeSkippedZeroStock Outcome = "skipped_zero_stock"
	OutcomeError            Outcome = "error"
	OutcomePartial          Outcome = "partial"
	OutcomeCancelled        Outcome = "cancelled"
)

// MinDiscountRatio is the §4.12 H threshold below which a sale is not
// worth an automatic discount.
const MinDiscountRatio = 0.05

// ProductResult is one product's outcome, returned alongside the run's
// aggregate Stats.
type ProductResult struct {
	Key              string
	Outcome          Outcome
	Err              error
	InventoryUpdated int
	InventoryFailed  int
}

// Pipeline is the ProductSyncPipeline of §4.12.
type Pipeline struct {
	commerce *commerce.Client
	taxonomy *taxonomy.Resolver
	progress *checkpoint.ProgressCheckpointStore
	metrics  metrics.Sink
	clock    clock.Clock
	logger   *zap.Logger

	batchSize            int
	maxConcurrentBatches int
	checkpointInterval   int
	forceCreate          bool

	primaryOnce     sync.Once
	primaryLocation domain.Location
	primaryErr      error
}

// Config bundles the tunables of §6.1 a Pipeline needs (K, P, checkpoint
// cadence, force-create mode).
type Config struct {
	BatchSize            int
	MaxConcurrentBatches int
	CheckpointInterval   int
	ForceCreate          bool
}

// New builds a Pipeline.
func New(
	commerceClient *commerce.Client,
	taxonomyResolver *taxonomy.Resolver,
	progress *checkpoint.ProgressCheckpointStore,
	sink metrics.Sink,
	clk clock.Clock,
	logger *zap.Logger,
	cfg Config,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 3
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 10
	}
	return &Pipeline{
		commerce:             commerceClient,
		taxonomy:             taxonomyResolver,
		progress:             progress,
		metrics:              sink,
		clock:                clk,
		logger:               logger,
		batchSize:            cfg.BatchSize,
		maxConcurrentBatches: cfg.MaxConcurrentBatches,
		checkpointInterval:   cfg.CheckpointInterval,
		forceCreate:          cfg.ForceCreate,
	}
}

// Run processes every product in products, in batches of Pipeline.batchSize
// with up to Pipeline.maxConcurrentBatches batches in flight; per-product
// work inside a batch stays sequential (§4.12 "Batching & concurrency").
func (p *Pipeline) Run(ctx context.Context, syncID string, products []domain.Product) (domain.Stats, []ProductResult, error) {
	batches := chunkProducts(products, p.batchSize)

	sem := semaphore.NewWeighted(int64(p.maxConcurrentBatches))
	var mu sync.Mutex
	stats := domain.Stats{}
	results := make([]ProductResult, 0, len(products))
	processedSinceCheckpoint := 0
	var firstErr error

	var wg sync.WaitGroup
	for batchNum, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("acquire batch semaphore: %w", err)
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(batchNum int, batch []domain.Product) {
			defer wg.Done()
			defer sem.Release(1)

			for _, product := range batch {
				select {
				case <-ctx.Done():
					mu.Lock()
					stats.Cancelled++
					results = append(results, ProductResult{Key: product.Key, Outcome: OutcomeCancelled, Err: ctx.Err()})
					mu.Unlock()
					continue
				default:
				}

				result := p.processProduct(ctx, product)

				mu.Lock()
				stats.Processed++
				applyOutcome(&stats, result.Outcome)
				applyInventoryCounts(&stats, result)
				results = append(results, result)
				processedSinceCheckpoint++
				save := processedSinceCheckpoint >= p.checkpointInterval
				if save {
					processedSinceCheckpoint = 0
				}
				current := stats
				lastCCOD := product.Key
				mu.Unlock()

				p.metrics.IncProduct(string(result.Outcome))

				if save {
					_ = p.progress.Save(domain.ProgressCheckpoint{
						SyncID:            syncID,
						LastProcessedCCOD: lastCCOD,
						ProcessedCount:    current.Processed,
						TotalCount:        len(products),
						BatchNumber:       batchNum,
						Stats:             current,
					})
				}
			}
		}(batchNum, batch)
	}
	wg.Wait()

	_ = p.progress.Save(domain.ProgressCheckpoint{
		SyncID:         syncID,
		ProcessedCount: stats.Processed,
		TotalCount:     len(products),
		BatchNumber:    len(batches),
		Stats:          stats,
	})

	return stats, results, firstErr
}

func applyOutcome(stats *domain.Stats, outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		stats.Created++
	case OutcomeUpdated:
		stats.Updated++
	case OutcomeSkippedEmpty, OutcomeSkippedZeroStock:
		stats.Skipped++
	case OutcomeError:
		stats.Errors++
	case OutcomePartial:
		stats.Partial++
	case OutcomeCancelled:
		stats.Cancelled++
	}
}

func applyInventoryCounts(stats *domain.Stats, result ProductResult) {
	stats.InventoryUpdated += result.InventoryUpdated
	stats.InventoryFailed += result.InventoryFailed
}

func chunkProducts(products []domain.Product, size int) [][]domain.Product {
	if len(products) == 0 {
		return nil
	}
	var batches [][]domain.Product
	for len(products) > size {
		batches = append(batches, products[:size])
		products = products[size:]
	}
	return append(batches, products)
}

// processProduct runs steps A-J for one product (§4.12), timing the whole
// sequence for ObserveProductDuration regardless of which step it exits on.
func (p *Pipeline) processProduct(ctx context.Context, product domain.Product) ProductResult {
	start := p.clock.Now()
	defer func() {
		p.metrics.ObserveProductDuration(p.clock.Now().Sub(start).Seconds())
	}()
	return p.processProductSteps(ctx, product)
}

// processProductSteps is the actual A-J body processProduct times.
func (p *Pipeline) processProductSteps(ctx context.Context, product domain.Product) ProductResult {
	// A. Prepare.
	if len(product.Variants) == 0 {
		return ProductResult{Key: product.Key, Outcome: OutcomeSkippedEmpty}
	}
	p.prepare(&product)

	// B. Upsert product.
	existing, err := p.commerce.FetchProductByHandle(ctx, product.Handle)
	if err != nil {
		p.logger.Warn("product prepare/fetch failed", zap.String("key", product.Key), zap.Error(err))
		return ProductResult{Key: product.Key, Outcome: OutcomeError, Err: err}
	}

	created := existing == nil
	if existing == nil {
		if !p.forceCreate && product.TotalInventory() == 0 {
			return ProductResult{Key: product.Key, Outcome: OutcomeSkippedZeroStock}
		}
		remoteID, err := p.commerce.CreateProduct(ctx, product)
		if err != nil {
			return ProductResult{Key: product.Key, Outcome: OutcomeError, Err: err}
		}
		product.RemoteID = remoteID
	} else {
		product.RemoteID = existing.RemoteID
		if err := p.commerce.UpdateProduct(ctx, existing.RemoteID, product); err != nil {
			return ProductResult{Key: product.Key, Outcome: OutcomeError, Err: err}
		}
	}

	// C. Upsert variants (F-G sale swap applied first).
	maxDiscountRatio, discountedRefs, saleStart, saleEnd := applySaleSwap(product.Variants, p.clock.Now())
	if err := p.upsertVariants(ctx, &product, existing); err != nil {
		p.logger.Warn("variant upsert failed", zap.String("key", product.Key), zap.Error(err))
		return ProductResult{Key: product.Key, Outcome: OutcomeError, Err: err}
	}

	// D, E, H, I — each isolated; a failure marks the product partial but
	// never aborts the remaining steps (§4.12 failure semantics).
	partial := false

	invUpdated, invFailed, err := p.syncInventory(ctx, product.Variants)
	if err != nil {
		p.logger.Warn("inventory sync failed", zap.String("key", product.Key), zap.Error(err))
		partial = true
	}

	if err := p.setMetafields(ctx, product); err != nil {
		p.logger.Warn("metafield sync failed", zap.String("key", product.Key), zap.Error(err))
		partial = true
	}

	if maxDiscountRatio >= MinDiscountRatio {
		if err := p.syncDiscount(ctx, product, maxDiscountRatio, discountedRefs, saleStart, saleEnd); err != nil {
			p.logger.Warn("discount sync failed", zap.String("key", product.Key), zap.Error(err))
			partial = true
		}
	}

	if err := p.syncCollections(ctx, product); err != nil {
		p.logger.Warn("collection sync failed", zap.String("key", product.Key), zap.Error(err))
		partial = true
	}

	outcome := OutcomeUpdated
	switch {
	case partial:
		outcome = OutcomePartial
	case created:
		outcome = OutcomeCreated
	}
	return ProductResult{Key: product.Key, Outcome: outcome, InventoryUpdated: invUpdated, InventoryFailed: invFailed}
}

// prepare applies the taxonomy resolution and handle derivation of step A.
// Size normalization already happened in variant.Grouper, upstream of this
// pipeline.
func (p *Pipeline) prepare(product *domain.Product) {
	first := product.Variants[0]
	resolution := p.taxonomy.Resolve(first.Familia, first.Categoria, first.ExtendedCategory)
	if resolution.TaxonomyID != "" {
		product.TaxonomyID = resolution.TaxonomyID
	}
	if resolution.ProductType != "" {
		product.ProductType = resolution.ProductType
	}
	if resolution.Vendor != "" {
		product.Vendor = resolution.Vendor
	}
	product.Handle = deriveHandle(product.Key, product.Title)
}

// deriveHandle builds a deterministic, URL-safe slug from (ccod, title)
// (§3 (c), P2): the same (key, title) pair always yields the same handle.
func deriveHandle(key, title string) string {
	return slugify(key) + "-" + slugify(title)
}

func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// applySaleSwap implements §4.12 F-G: for each variant on an active sale
// window, set CompareAtPrice=Price and Price=SalePrice, and return the
// product's maximum discount ratio, the SKUs of the variants it applies
// to, and the widest sale window covering them (for step H).
func applySaleSwap(variants []domain.Variant, now time.Time) (maxRatio float64, refs []string, start, end time.Time) {
	for i := range variants {
		v := &variants[i]
		if v.SalePrice == nil || v.SaleStart == nil || v.SaleEnd == nil {
			continue
		}
		if !v.SalePrice.LessThan(v.Price) {
			continue
		}
		if now.Before(*v.SaleStart) || !now.Before(*v.SaleEnd) {
			continue
		}

		originalPrice := v.Price
		v.CompareAtPrice = &originalPrice
		v.Price = *v.SalePrice

		ratio, _ := originalPrice.Sub(*v.SalePrice).Div(originalPrice).Float64()
		if ratio > maxRatio {
			maxRatio = ratio
		}
		refs = append(refs, v.SKU)
		if start.IsZero() || v.SaleStart.Before(start) {
			start = *v.SaleStart
		}
		if end.IsZero() || v.SaleEnd.After(end) {
			end = *v.SaleEnd
		}
	}
	return maxRatio, refs, start, end
}

// upsertVariants diffs product.Variants against existing's variants by
// (option1, option2), creating what's missing (bulk) and updating what
// changed (bulk) (§4.12 C). Deletions are out of scope (§4.12 C).
func (p *Pipeline) upsertVariants(ctx context.Context, product *domain.Product, existing *domain.Product) error {
	existingByKey := make(map[string]domain.Variant)
	if existing != nil {
		for _, v := range existing.Variants {
			existingByKey[variantKey(v)] = v
		}
	}

	var toCreate, toUpdate []domain.Variant
	for _, v := range product.Variants {
		if match, ok := existingByKey[variantKey(v)]; ok {
			v.RemoteID = match.RemoteID
			v.InventoryItemID = match.InventoryItemID
			toUpdate = append(toUpdate, v)
		} else {
			toCreate = append(toCreate, v)
		}
	}

	if len(toCreate) > 0 {
		created, err := p.commerce.BulkCreateVariants(ctx, product.RemoteID, toCreate)
		if err != nil {
			return fmt.Errorf("bulk create variants: %w", err)
		}
		toCreate = created
	}
	if len(toUpdate) > 0 {
		if err := p.commerce.BulkUpdateVariants(ctx, product.RemoteID, toUpdate); err != nil {
			return fmt.Errorf("bulk update variants: %w", err)
		}
	}

	merged := make([]domain.Variant, 0, len(toCreate)+len(toUpdate))
	merged = append(merged, toCreate...)
	merged = append(merged, toUpdate...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].SKU < merged[j].SKU })
	product.Variants = merged
	return nil
}

func variantKey(v domain.Variant) string {
	return strings.ToUpper(v.Option1) + "|" + strings.ToUpper(v.Option2)
}

// syncInventory activates tracking and sets on-hand quantity for every
// variant against the shop's primary location (§4.12 D).
func (p *Pipeline) syncInventory(ctx context.Context, variants []domain.Variant) (updated int, failed int, err error) {
	loc, err := p.getPrimaryLocation(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve primary location: %w", err)
	}

	for _, v := range variants {
		if v.InventoryItemID == "" {
			continue
		}
		if err := p.commerce.ActivateInventoryTracking(ctx, v.InventoryItemID, loc.ID); err != nil {
			failed++
			p.metrics.IncInventory("failed")
			p.logger.Warn("activate inventory tracking failed", zap.String("sku", v.SKU), zap.Error(err))
			continue
		}
		qty := v.Inventory[variant.PrimaryLocationKey]
		if err := p.commerce.SetInventoryOnHand(ctx, v.InventoryItemID, loc.ID, qty); err != nil {
			failed++
			p.metrics.IncInventory("failed")
			p.logger.Warn("set inventory on hand failed", zap.String("sku", v.SKU), zap.Error(err))
			continue
		}
		updated++
		p.metrics.IncInventory("updated")
	}
	if failed > 0 {
		return updated, failed, fmt.Errorf("%d of %d variants failed inventory sync", failed, len(variants))
	}
	return updated, failed, nil
}

func (p *Pipeline) getPrimaryLocation(ctx context.Context) (domain.Location, error) {
	p.primaryOnce.Do(func() {
		p.primaryLocation, p.primaryErr = p.commerce.PrimaryLocation(ctx)
	})
	return p.primaryLocation, p.primaryErr
}

// setMetafields composes the fixed per-variant metafield set of §6.4 and
// writes it in chunks of <=25 (§4.12 E). Several listed keys (rms.talla,
// rms.item_id, the sale-window pair) vary per variant, not per product, so
// each variant is its own metafield owner; rms.ccod ties every variant's
// metafields back to the shared product.
func (p *Pipeline) setMetafields(ctx context.Context, product domain.Product) error {
	var fields []commerce.Metafield
	for _, v := range product.Variants {
		if v.RemoteID == "" {
			continue
		}
		fields = append(fields, variantMetafields(v)...)
	}
	if len(fields) == 0 {
		return nil
	}

	const chunkSize = 25
	for len(fields) > 0 {
		n := chunkSize
		if n > len(fields) {
			n = len(fields)
		}
		if err := p.commerce.SetMetafields(ctx, fields[:n]); err != nil {
			return fmt.Errorf("set metafields: %w", err)
		}
		fields = fields[n:]
	}
	return nil
}

func variantMetafields(v domain.Variant) []commerce.Metafield {
	m := []commerce.Metafield{
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "familia", Type: "single_line_text_field", Value: v.Familia},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "categoria", Type: "single_line_text_field", Value: v.Categoria},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "talla", Type: "single_line_text_field", Value: v.Option2},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "color", Type: "single_line_text_field", Value: v.Option1},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "ccod", Type: "single_line_text_field", Value: v.CCOD},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "extended_category", Type: "single_line_text_field", Value: v.ExtendedCategory},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "genero", Type: "single_line_text_field", Value: v.Genero},
		{OwnerID: v.RemoteID, Namespace: "rms", Key: "item_id", Type: "integer", Value: fmt.Sprintf("%d", v.ItemID)},
	}
	if v.ProductAttributes != "" {
		m = append(m, commerce.Metafield{OwnerID: v.RemoteID, Namespace: "rms", Key: "product_attributes", Type: "json", Value: v.ProductAttributes})
	}
	if v.SizeOriginal != "" {
		m = append(m, commerce.Metafield{OwnerID: v.RemoteID, Namespace: "rms", Key: "talla_original", Type: "single_line_text_field", Value: v.SizeOriginal})
	}
	if v.SaleStart != nil {
		m = append(m, commerce.Metafield{OwnerID: v.RemoteID, Namespace: "rms", Key: "sale_start_date", Type: "date_time", Value: v.SaleStart.UTC().Format(time.RFC3339)})
	}
	if v.SaleEnd != nil {
		m = append(m, commerce.Metafield{OwnerID: v.RemoteID, Namespace: "rms", Key: "sale_end_date", Type: "date_time", Value: v.SaleEnd.UTC().Format(time.RFC3339)})
	}

	gender, ageGroup := customGenderFields(v.Genero)
	m = append(m,
		commerce.Metafield{OwnerID: v.RemoteID, Namespace: "custom", Key: "target_gender", Type: "single_line_text_field", Value: gender},
		commerce.Metafield{OwnerID: v.RemoteID, Namespace: "custom", Key: "age_group", Type: "single_line_text_field", Value: ageGroup},
	)
	if isFootwear(v.Categoria) {
		m = append(m, commerce.Metafield{OwnerID: v.RemoteID, Namespace: "custom", Key: "shoe_size", Type: "single_line_text_field", Value: v.Option2})
	}
	return m
}

// customGenderFields maps the RMS genero code to the custom.target_gender
// and custom.age_group metafields (§6.4). RMS uses a small fixed code set
// (H=Hombre, M=Mujer, N=Niños, U=Unisex); anything else falls back to
// Unisex/Adult rather than failing the product.
func customGenderFields(genero string) (targetGender, ageGroup string) {
	switch strings.ToUpper(strings.TrimSpace(genero)) {
	case "H":
		return "Men", "Adult"
	case "M":
		return "Women", "Adult"
	case "N":
		return "Kids", "Kids"
	case "U":
		return "Unisex", "Adult"
	default:
		return "Unisex", "Adult"
	}
}

func isFootwear(categoria string) bool {
	return strings.EqualFold(strings.TrimSpace(categoria), "calzado")
}

// syncDiscount creates or updates the product's single automatic discount,
// idempotent by a handle-derived externalRef (§4.12 H).
func (p *Pipeline) syncDiscount(ctx context.Context, product domain.Product, ratio float64, refs []string, start, end time.Time) error {
	percent := roundPercent(ratio * 100)
	externalRef := "discount-" + product.Handle

	discount := domain.Discount{
		Percent:     percent,
		StartsAt:    start,
		EndsAt:      end,
		VariantRefs: variantRemoteIDs(product.Variants, refs),
		ExternalRef: externalRef,
	}

	remoteID, found, err := p.commerce.FindDiscountByExternalRef(ctx, externalRef)
	if err != nil {
		return fmt.Errorf("find discount: %w", err)
	}
	if found {
		return p.commerce.UpdateAutomaticDiscount(ctx, remoteID, discount)
	}
	_, err = p.commerce.CreateAutomaticDiscount(ctx, discount)
	return err
}

func variantRemoteIDs(variants []domain.Variant, skus []string) []string {
	bySKU := make(map[string]string, len(variants))
	for _, v := range variants {
		bySKU[v.SKU] = v.RemoteID
	}
	ids := make([]string, 0, len(skus))
	for _, sku := range skus {
		if id, ok := bySKU[sku]; ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func roundPercent(raw float64) decimal.Decimal {
	d, err := decimal.NewFromString(fmt.Sprintf("%.2f", raw))
	if err != nil {
		return decimal.NewFromFloat(raw)
	}
	return d
}

// syncCollections ensures the categoria/familia collections exist and
// attaches this product to both (§4.12 I).
func (p *Pipeline) syncCollections(ctx context.Context, product domain.Product) error {
	var failed bool

	var categoria, familia string
	if len(product.Variants) > 0 {
		categoria, familia = product.Variants[0].Categoria, product.Variants[0].Familia
	}
	for _, name := range []string{categoria, familia} {
		if name == "" {
			continue
		}
		collectionID, err := p.commerce.EnsureCollection(ctx, name, "manual")
		if err != nil {
			p.logger.Warn("ensure collection failed", zap.String("name", name), zap.Error(err))
			failed = true
			continue
		}
		if err := p.commerce.AddProductsToCollection(ctx, collectionID, []string{product.RemoteID}); err != nil {
			p.logger.Warn("add product to collection failed", zap.String("name", name), zap.Error(err))
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more collection operations failed")
	}
	return nil
}
