// Package variant builds the in-memory domain.Product aggregates the rest
// of the sync engine operates on, grouping RMS item rows by CCOD and
// applying the duplicate/cap/title rules of §4.10. It is a pure in-memory
// transformation; the *zap.Logger dependency exists only to emit
// non-fatal warnings, the same "log, don't fail" posture the teacher uses
// for recoverable conditions in internal/core.
package variant

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"retailsync/internal/domain"
	"retailsync/internal/sizenorm"
)

// MaxVariantsPerProduct is the cap of §4.10: a CCOD group larger than this
// is split into multiple products, suffixing the key deterministically.
const MaxVariantsPerProduct = 100

// PrimaryLocationKey is the placeholder location key VariantGrouper writes
// consolidated RMS stock under; ProductSyncPipeline's inventory step
// resolves it to the actual commerce primary location id before the
// inventory-set call, since CCOD grouping runs before any commerce call is
// made and has no location ids to work with yet.
const PrimaryLocationKey = "primary"

// Grouper is the VariantGrouper of §4.10.
type Grouper struct {
	logger *zap.Logger
}

// NewGrouper builds a Grouper. logger must not be nil.
func NewGrouper(logger *zap.Logger) *Grouper {
	return &Grouper{logger: logger}
}

// Group turns a batch of ItemRow into a list of Product aggregates,
// grouping by normalized CCOD (falling back to a per-row singleton keyed
// by SKU when CCOD is empty), deduping (color, size) pairs by keeping the
// most recently updated row, splitting oversized groups, and deriving a
// title for each resulting product.
func (g *Grouper) Group(rows []domain.ItemRow) []domain.Product {
	groups := make(map[string][]domain.ItemRow)
	var order []string

	for _, row := range rows {
		key := normalizeCCOD(row.CCOD)
		if key == "" {
			key = "sku:" + strings.ToUpper(strings.TrimSpace(row.SKU))
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	var products []domain.Product
	for _, key := range order {
		products = append(products, g.buildProducts(key, groups[key])...)
	}
	return products
}

// buildProducts turns one CCOD group into one or more domain.Product
// values (more than one only when the group exceeds MaxVariantsPerProduct
// after deduping).
func (g *Grouper) buildProducts(key string, rows []domain.ItemRow) []domain.Product {
	deduped := g.dedupeBySize(key, rows)

	sort.Slice(deduped, func(i, j int) bool { return deduped[i].SKU < deduped[j].SKU })

	chunks := chunk(deduped, MaxVariantsPerProduct)
	if len(chunks) > 1 {
		g.logger.Warn("VariantCap",
			zap.String("ccod", key),
			zap.Int("variant_count", len(deduped)),
			zap.Int("product_count", len(chunks)))
	}

	products := make([]domain.Product, 0, len(chunks))
	for i, rowsChunk := range chunks {
		products = append(products, buildProduct(productKey(key, i), rowsChunk))
	}
	return products
}

// productKey suffixes key deterministically for every split beyond the
// first, so the same oversized group always produces the same set of
// keys across runs (§4.10, P2).
func productKey(key string, chunkIndex int) string {
	if chunkIndex == 0 {
		return key
	}
	return fmt.Sprintf("%s-%d", key, chunkIndex+1)
}

// dedupeBySize collapses rows sharing a (color, normalized size) pair,
// keeping the one with the greater LastUpdated and logging a
// DuplicateVariant warning for every row it discards.
func (g *Grouper) dedupeBySize(ccod string, rows []domain.ItemRow) []domain.ItemRow {
	best := make(map[string]domain.ItemRow, len(rows))
	var order []string

	for _, row := range rows {
		size, _ := sizenorm.Normalize(row.Talla)
		k := strings.ToUpper(strings.TrimSpace(row.Color)) + "|" + size

		existing, seen := best[k]
		if !seen {
			order = append(order, k)
			best[k] = row
			continue
		}
		dropped := row
		if row.LastUpdated.After(existing.LastUpdated) {
			best[k] = row
			dropped = existing
		}
		g.logger.Warn("DuplicateVariant",
			zap.String("ccod", ccod),
			zap.String("color", row.Color),
			zap.String("size", size),
			zap.Int64("kept_item_id", best[k].ItemID),
			zap.Int64("dropped_item_id", dropped.ItemID))
	}

	out := make([]domain.ItemRow, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func buildProduct(key string, rows []domain.ItemRow) domain.Product {
	variants := make([]domain.Variant, 0, len(rows))
	totalInventory := 0
	for _, row := range rows {
		size, sizeOriginal := sizenorm.Normalize(row.Talla)
		variants = append(variants, domain.Variant{
			SKU:     row.SKU,
			Option1: row.Color,
			Option2: size,
			Price:   row.Price,
			Inventory: map[string]int{
				PrimaryLocationKey: row.Quantity,
			},
			ItemID:            row.ItemID,
			SalePrice:         row.SalePrice,
			CCOD:              row.CCOD,
			ExtendedCategory:  row.ExtendedCategory,
			Genero:            row.Genero,
			Familia:           row.Familia,
			Categoria:         row.Categoria,
			SizeOriginal:      sizeOriginal,
			ProductAttributes: row.ProductAttributes,
			SaleStart:         row.SaleStart,
			SaleEnd:           row.SaleEnd,
		})
		totalInventory += row.Quantity
	}

	status := domain.StatusDraft
	if totalInventory > 0 {
		status = domain.StatusActive
	}

	first := rows[0]
	return domain.Product{
		Key:         key,
		Title:       deriveTitle(rows),
		Vendor:      first.Familia,
		ProductType: first.Categoria,
		Status:      status,
		Variants:    variants,
	}
}

// deriveTitle implements §4.10's title rule: the longest common
// non-empty prefix of the group's descriptions, falling back to the
// first row's description when no non-trivial prefix exists.
func deriveTitle(rows []domain.ItemRow) string {
	prefix := strings.TrimSpace(rows[0].Description)
	for _, row := range rows[1:] {
		prefix = commonPrefix(prefix, strings.TrimSpace(row.Description))
		if prefix == "" {
			break
		}
	}
	prefix = strings.TrimSpace(prefix)
	if prefix != "" {
		return prefix
	}
	return strings.TrimSpace(rows[0].Description)
}

func commonPrefix(a, b string) string {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}

// normalizeCCOD uppercases and trims ccod for grouping (§4.10).
func normalizeCCOD(ccod string) string {
	return strings.ToUpper(strings.TrimSpace(ccod))
}

func chunk(rows []domain.ItemRow, size int) [][]domain.ItemRow {
	if len(rows) == 0 {
		return nil
	}
	var chunks [][]domain.ItemRow
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	return append(chunks, rows)
}
