package rms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"retailsync/internal/domain"
	"retailsync/internal/synerr"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, the teacher's
// shared-helper-across-pool-and-tx pattern (internal/core/order_service.go),
// letting the lookup/insert helpers below run either standalone or as part
// of InsertOrderTx's transaction.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the engine's only entry point onto RMS tables (§4.4).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an already-pinged pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ModifiedItems returns item IDs modified since the watermark, ordered
// ascending by last_updated, capped at limit, never null last_updated (§4.4).
func (r *Repository) ModifiedItems(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT item_id
		FROM view_items
		WHERE last_updated IS NOT NULL AND last_updated > $1
		ORDER BY last_updated ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query modified items: %w", classifyPgError(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan modified item id: %w", classifyPgError(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modified items: %w", classifyPgError(err))
	}
	return ids, nil
}

// FetchItemRows hydrates full item rows for the given ids, optionally
// filtering zero-stock rows and by category/family (§4.4).
func (r *Repository) FetchItemRows(ctx context.Context, ids []int64, includeZeroStock bool, catFilter, famFilter string) ([]domain.ItemRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT item_id, sku, ccod, description, familia, categoria, extended_category,
		       genero, color, talla, price, sale_price, sale_start, sale_end,
		       quantity, stock_a, stock_b, tax, product_attributes, last_updated
		FROM view_items
		WHERE item_id = ANY($1)
		  AND ($2 OR quantity > 0)
		  AND ($3 = '' OR categoria = $3)
		  AND ($4 = '' OR familia = $4)
	`, ids, includeZeroStock, catFilter, famFilter)
	if err != nil {
		return nil, fmt.Errorf("query item rows: %w", classifyPgError(err))
	}
	defer rows.Close()

	var result []domain.ItemRow
	for rows.Next() {
		var it domain.ItemRow
		var salePrice *decimal.Decimal
		var saleStart, saleEnd *time.Time
		if err := rows.Scan(
			&it.ItemID, &it.SKU, &it.CCOD, &it.Description, &it.Familia, &it.Categoria, &it.ExtendedCategory,
			&it.Genero, &it.Color, &it.Talla, &it.Price, &salePrice, &saleStart, &saleEnd,
			&it.Quantity, &it.StockA, &it.StockB, &it.Tax, &it.ProductAttributes, &it.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", classifyPgError(err))
		}
		it.SalePrice = salePrice
		it.SaleStart = saleStart
		it.SaleEnd = saleEnd
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", classifyPgError(err))
	}
	return result, nil
}

// lookupItemIDBySKU is shared by the standalone LookupItemIDBySKU and by
// per-line SKU resolution run against a tx in a future caller.
func lookupItemIDBySKU(ctx context.Context, q pgxQuerier, sku string) (int64, bool, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT item_id FROM items WHERE sku = $1`, sku).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup item by sku %s: %w", sku, classifyPgError(err))
	}
	return id, true, nil
}

// LookupItemIDBySKU resolves a SKU to an internal item ID, returning found=false
// (not an error) when the SKU does not exist — §4.13(5) treats that as a
// line-level condition, not a repository failure.
func (r *Repository) LookupItemIDBySKU(ctx context.Context, sku string) (int64, bool, error) {
	return lookupItemIDBySKU(ctx, r.pool, sku)
}

// FindCustomerByEmail resolves an email to a customer ID (§4.13(4)).
func (r *Repository) FindCustomerByEmail(ctx context.Context, email string) (int64, bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT customer_id FROM customer WHERE email = $1`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup customer by email: %w", classifyPgError(err))
	}
	return id, true, nil
}

// CreateCustomer inserts a new guest/commerce-origin customer row.
func (r *Repository) CreateCustomer(ctx context.Context, draft domain.CustomerDraft) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customer (email, name, phone)
		VALUES ($1, $2, $3)
		RETURNING customer_id
	`, draft.Email, draft.Name, draft.Phone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create customer: %w", classifyPgError(err))
	}
	return id, nil
}

// HasOrderByReference reports whether a commerce order with this reference
// number has already been ingested (§4.13(1), P4 idempotency).
func (r *Repository) HasOrderByReference(ctx context.Context, referenceNumber string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM "order" WHERE reference_number = $1 AND channel_type = $2)
	`, referenceNumber, domain.ChannelTypeCommerce).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing order by reference: %w", classifyPgError(err))
	}
	return exists, nil
}

// insertOrderHeader and insertOrderLine take a pgxQuerier so InsertOrderTx
// can run both through the same tx handle.
func insertOrderHeader(ctx context.Context, q pgxQuerier, header domain.OrderHeader) (int64, error) {
	var orderID int64
	err := q.QueryRow(ctx, `
		INSERT INTO "order" (store_id, type, time, customer_id, total, tax, comment, shipping_notes, channel_type, reference_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING order_id
	`, header.StoreID, domain.OrderTypeSale, header.Time, header.CustomerID, header.Total, header.Tax,
		header.Comment, header.ShippingNotes, domain.ChannelTypeCommerce, header.ReferenceNumber,
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("insert order header: %w", classifyPgError(err))
	}
	return orderID, nil
}

func insertOrderLine(ctx context.Context, q pgxQuerier, orderID int64, line domain.OrderLine) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_entry (order_id, item_id, description, price, full_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, orderID, line.ItemID, line.Description, line.Price, line.FullPrice, line.Quantity)
	if err != nil {
		return fmt.Errorf("insert order line for item %d: %w", line.ItemID, classifyPgError(err))
	}
	return nil
}

// InsertOrderTx inserts header and lines atomically, rolling back entirely
// on any line failure (§4.13(7), P10 order atomicity).
func (r *Repository) InsertOrderTx(ctx context.Context, header domain.OrderHeader, lines []domain.OrderLine) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin order insert tx: %w", classifyPgError(err))
	}
	defer tx.Rollback(ctx)

	orderID, err := insertOrderHeader(ctx, tx, header)
	if err != nil {
		return 0, err
	}

	for _, line := range lines {
		if err := insertOrderLine(ctx, tx, orderID, line); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit order insert tx: %w", classifyPgError(err))
	}
	return orderID, nil
}

// classifyPgError wraps a raw pgx/network error with the synerr kind most
// callers should branch on, leaving not-found conditions (pgx.ErrNoRows)
// for callers that already check errors.Is before reaching here.
func classifyPgError(err error) error {
	switch synerr.Classify(err) {
	case synerr.KindIntegrity:
		return &synerr.Integrity{Cause: err}
	case synerr.KindTransient:
		return &synerr.Transient{Cause: err}
	default:
		return err
	}
}
