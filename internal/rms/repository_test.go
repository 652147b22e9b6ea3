package rms_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"retailsync/internal/domain"
	"retailsync/internal/rms"
)

func setupRMSTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_RMS_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_RMS_DATABASE_URL not set — skipping integration test to protect a live RMS database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test RMS database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE order_entry, "order", customer, items CASCADE;

		INSERT INTO items (item_id, sku, ccod, description, familia, categoria, extended_category,
		                    genero, color, talla, price, quantity, stock_a, stock_b, tax, product_attributes, last_updated) VALUES
		(1, 'SKU-001', 'CC01', 'Basic Tee', 'Camisetas', 'Ropa', 'Ropa Hombre', 'H', 'Azul', 'M', 19.99, 10, 6, 4, 0.16, '{}', now() - interval '1 hour'),
		(2, 'SKU-002', 'CC01', 'Basic Tee', 'Camisetas', 'Ropa', 'Ropa Hombre', 'H', 'Azul', 'L', 19.99, 0, 0, 0, 0.16, '{}', now() - interval '2 hours');

		INSERT INTO customer (customer_id, email, name, phone) VALUES
		(1, 'existing@example.com', 'Existing Customer', '+52-555-0000');
	`)
	if err != nil {
		t.Fatalf("failed to seed RMS test database: %v", err)
	}

	return pool
}

func TestRepository_ModifiedItems_OrdersByLastUpdatedAscending(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	ids, err := repo.ModifiedItems(ctx, time.Now().Add(-3*time.Hour), 10)
	if err != nil {
		t.Fatalf("ModifiedItems failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("expected [2 1] ordered by last_updated ascending, got %v", ids)
	}
}

func TestRepository_ModifiedItems_RespectsLimit(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	ids, err := repo.ModifiedItems(ctx, time.Now().Add(-3*time.Hour), 1)
	if err != nil {
		t.Fatalf("ModifiedItems failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 id, got %d", len(ids))
	}
}

func TestRepository_FetchItemRows_FiltersZeroStockByDefault(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	rows, err := repo.FetchItemRows(ctx, []int64{1, 2}, false, "", "")
	if err != nil {
		t.Fatalf("FetchItemRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ItemID != 1 {
		t.Errorf("expected only item 1 (item 2 has zero stock), got %+v", rows)
	}
}

func TestRepository_FetchItemRows_IncludeZeroStockReturnsAll(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	rows, err := repo.FetchItemRows(ctx, []int64{1, 2}, true, "", "")
	if err != nil {
		t.Fatalf("FetchItemRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected both items with includeZeroStock=true, got %d", len(rows))
	}
}

func TestRepository_FetchItemRows_EmptyIDsReturnsNilWithoutQuery(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	rows, err := repo.FetchItemRows(ctx, nil, true, "", "")
	if err != nil {
		t.Fatalf("FetchItemRows failed: %v", err)
	}
	if rows != nil {
		t.Errorf("expected nil rows for empty id slice, got %+v", rows)
	}
}

func TestRepository_LookupItemIDBySKU_FoundAndNotFound(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	id, found, err := repo.LookupItemIDBySKU(ctx, "SKU-001")
	if err != nil {
		t.Fatalf("LookupItemIDBySKU failed: %v", err)
	}
	if !found || id != 1 {
		t.Errorf("expected found item 1, got found=%v id=%d", found, id)
	}

	_, found, err = repo.LookupItemIDBySKU(ctx, "SKU-DOES-NOT-EXIST")
	if err != nil {
		t.Fatalf("LookupItemIDBySKU for missing sku should not error: %v", err)
	}
	if found {
		t.Error("expected found=false for a sku that does not exist")
	}
}

func TestRepository_FindCustomerByEmail_FoundAndNotFound(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	id, found, err := repo.FindCustomerByEmail(ctx, "existing@example.com")
	if err != nil {
		t.Fatalf("FindCustomerByEmail failed: %v", err)
	}
	if !found || id != 1 {
		t.Errorf("expected found customer 1, got found=%v id=%d", found, id)
	}

	_, found, err = repo.FindCustomerByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("FindCustomerByEmail for missing email should not error: %v", err)
	}
	if found {
		t.Error("expected found=false for an email with no matching customer")
	}
}

func TestRepository_CreateCustomer_ThenFindable(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	id, err := repo.CreateCustomer(ctx, domain.CustomerDraft{
		Email: "new@example.com",
		Name:  "New Customer",
		Phone: "+52-555-1111",
	})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}

	found, ok, err := repo.FindCustomerByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("FindCustomerByEmail failed: %v", err)
	}
	if !ok || found != id {
		t.Errorf("expected newly created customer %d to be findable, got ok=%v found=%d", id, ok, found)
	}
}

func TestRepository_InsertOrderTx_InsertsHeaderAndLines(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	customerID := int64(1)
	header := domain.OrderHeader{
		StoreID:         1,
		Time:            time.Now(),
		CustomerID:      &customerID,
		Total:           decimal.NewFromFloat(39.98),
		Tax:             decimal.NewFromFloat(6.40),
		ReferenceNumber: "commerce-1001",
	}
	lines := []domain.OrderLine{
		{ItemID: 1, Description: "Basic Tee", Price: decimal.NewFromFloat(19.99), FullPrice: decimal.NewFromFloat(19.99), Quantity: 2},
	}

	orderID, err := repo.InsertOrderTx(ctx, header, lines)
	if err != nil {
		t.Fatalf("InsertOrderTx failed: %v", err)
	}
	if orderID == 0 {
		t.Error("expected a non-zero order id")
	}

	exists, err := repo.HasOrderByReference(ctx, "commerce-1001")
	if err != nil {
		t.Fatalf("HasOrderByReference failed: %v", err)
	}
	if !exists {
		t.Error("expected HasOrderByReference to find the just-inserted order")
	}
}

func TestRepository_InsertOrderTx_RollsBackOnBadLine(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	header := domain.OrderHeader{
		StoreID:         1,
		Time:            time.Now(),
		Total:           decimal.NewFromFloat(19.99),
		ReferenceNumber: "commerce-bad-line",
	}
	lines := []domain.OrderLine{
		// item_id 999 does not exist, violating the order_entry foreign key.
		{ItemID: 999, Description: "Ghost item", Price: decimal.NewFromFloat(19.99), FullPrice: decimal.NewFromFloat(19.99), Quantity: 1},
	}

	if _, err := repo.InsertOrderTx(ctx, header, lines); err == nil {
		t.Fatal("expected InsertOrderTx to fail on a line referencing a nonexistent item")
	}

	exists, err := repo.HasOrderByReference(ctx, "commerce-bad-line")
	if err != nil {
		t.Fatalf("HasOrderByReference failed: %v", err)
	}
	if exists {
		t.Error("expected the header to be rolled back along with the failing line")
	}
}

func TestRepository_HasOrderByReference_FalseWhenAbsent(t *testing.T) {
	pool := setupRMSTestDB(t)
	defer pool.Close()
	repo := rms.NewRepository(pool)
	ctx := context.Background()

	exists, err := repo.HasOrderByReference(ctx, "never-inserted")
	if err != nil {
		t.Fatalf("HasOrderByReference failed: %v", err)
	}
	if exists {
		t.Error("expected false for a reference number that was never inserted")
	}
}
