// Package domain holds the types shared across the sync engine: the RMS
// read/write models, the in-memory product aggregate built from them, and
// the checkpoint records that make the engine resumable.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemRow is one row of the RMS View_Items projection: item master,
// inventory, and pricing consolidated. The engine only ever reads these.
type ItemRow struct {
	ItemID           int64
	SKU              string
	CCOD             string
	Description      string
	Familia          string
	Categoria        string
	ExtendedCategory string
	Genero           string
	Color            string
	Talla            string
	Price            decimal.Decimal
	SalePrice        *decimal.Decimal
	SaleStart        *time.Time
	SaleEnd          *time.Time
	Quantity         int
	StockA           int
	StockB           int
	Tax              decimal.Decimal
	ProductAttributes string // raw JSON blob passed through as rms.product_attributes
	LastUpdated      time.Time
}

// OnSale reports whether the row's sale window covers now and the sale
// price actually undercuts the list price (§4.12 F-G).
func (r ItemRow) OnSale(now time.Time) bool {
	if r.SalePrice == nil || r.SaleStart == nil || r.SaleEnd == nil {
		return false
	}
	if !r.SalePrice.LessThan(r.Price) {
		return false
	}
	return !now.Before(*r.SaleStart) && now.Before(*r.SaleEnd)
}

// DiscountRatio returns (price-salePrice)/price, or zero when not on sale.
func (r ItemRow) DiscountRatio(now time.Time) decimal.Decimal {
	if !r.OnSale(now) || r.Price.IsZero() {
		return decimal.Zero
	}
	return r.Price.Sub(*r.SalePrice).Div(r.Price)
}

// TotalStock returns the consolidated RMS quantity field, used by the
// ACTIVE/DRAFT status invariant (§3 (b)). StockA and StockB are not added.
func (r ItemRow) TotalStock() int {
	return r.Quantity
}
