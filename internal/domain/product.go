package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the commerce-side publication status, derived purely
// from inventory per invariant P3 / §3 (b).
type ProductStatus string

const (
	StatusActive ProductStatus = "ACTIVE"
	StatusDraft  ProductStatus = "DRAFT"
)

// Product is the in-memory aggregate built per CCOD group by the
// VariantGrouper and consumed by the ProductSyncPipeline. It is discarded
// after the product's upsert completes (§3 lifecycle).
type Product struct {
	Key         string // CCOD, or SKU for a singleton fallback group
	Title       string
	Vendor      string // familia
	ProductType string // categoria, or resolved product-type label
	TaxonomyID  string
	Handle      string
	Status      ProductStatus
	Variants    []Variant

	// RemoteID is set once the product has been created or located on
	// COMMERCE (§4.12 step B).
	RemoteID string
}

// Variant is one commerce product variant derived from a single ItemRow.
type Variant struct {
	SKU            string
	Option1        string // color
	Option2        string // normalized size
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	SalePrice      *decimal.Decimal // RMS sale_price, pre swap; nil when not on sale
	Inventory      map[string]int   // locationID -> qty
	Barcode        string

	// ItemID ties the variant back to its source RMS row, needed by
	// metafield composition (rms.item_id) and inventory set calls.
	ItemID int64

	// The fields below carry the source ItemRow attributes the metafield
	// set of §6.4 needs at variant granularity (size/category/sale window
	// differ per variant even within one product).
	CCOD              string
	ExtendedCategory  string
	Genero            string
	Familia           string
	Categoria         string
	SizeOriginal      string // non-empty only when Option2 differs from the raw talla
	ProductAttributes string
	SaleStart         *time.Time
	SaleEnd           *time.Time

	// RemoteID and InventoryItemID are populated once the variant exists
	// on COMMERCE.
	RemoteID        string
	InventoryItemID string
}

// TotalQuantity sums this variant's inventory across locations.
func (v Variant) TotalQuantity() int {
	total := 0
	for _, q := range v.Inventory {
		total += q
	}
	return total
}

// Discount is one automatic, time-bounded percentage rule (§3, §4.12 H).
type Discount struct {
	Percent     decimal.Decimal
	StartsAt    time.Time
	EndsAt      time.Time
	VariantRefs []string // remote variant ids this discount applies to
	ExternalRef string   // deterministic idempotency key, keyed on handle
	RemoteID    string
}

// TotalInventory sums quantity across every variant — used to derive
// Status per invariant P3.
func (p Product) TotalInventory() int {
	total := 0
	for _, v := range p.Variants {
		total += v.TotalQuantity()
	}
	return total
}

// Location is one commerce fulfillment location (§4.5).
type Location struct {
	ID      string
	Name    string
	Primary bool
}
