package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("BITETRACK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BITETRACK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedFixture(t *testing.T, s *Store, stock int) (domain.Product, domain.Customer) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	product, err := s.CreateProduct(ctx, domain.Product{
		ID:    fmt.Sprintf("prd-it-%d", stamp),
		Name:  fmt.Sprintf("Integration Croissant %d", stamp),
		Price: decimal.RequireFromString("3.50"),
		Count: stock,
	})
	require.NoError(t, err)
	customer, err := s.CreateCustomer(ctx, domain.Customer{
		ID:    fmt.Sprintf("cus-it-%d", stamp),
		Name:  "Integration Customer",
		Phone: fmt.Sprintf("%010d", stamp%10000000000),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE customer_id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_drops WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})
	return *product, *customer
}

func TestDecrementStockIsGuarded(t *testing.T) {
	s := newIntegrationStore(t)
	product, _ := seedFixture(t, s, 2)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DecrementStock(ctx, product.ID, 3)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientInventory)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		remaining, err := tx.DecrementStock(ctx, product.ID, 2)
		assert.Equal(t, 0, remaining)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	product, customer := seedFixture(t, s, 5)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.DecrementStock(ctx, product.ID, 4); err != nil {
			return err
		}
		if err := tx.TouchCustomer(ctx, customer.ID, time.Now()); err != nil {
			return err
		}
		_, err := tx.DecrementStock(ctx, product.ID, 4)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientInventory)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Count)
	gotCustomer, err := s.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, gotCustomer.LastTransaction)
}

func TestImportDedupKeyRejectsSecondSale(t *testing.T) {
	s := newIntegrationStore(t)
	product, customer := seedFixture(t, s, 10)
	ctx := context.Background()
	original := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	insert := func(id string) error {
		return s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			now := time.Now().UTC()
			return tx.InsertSale(ctx, domain.Sale{
				ID:                id,
				CustomerID:        customer.ID,
				SellerID:          "slr-it",
				Products:          []domain.SaleLine{{ProductID: product.ID, Quantity: 1, PriceAtSale: product.Price}},
				TotalAmount:       product.Price,
				AmountPaid:        product.Price,
				CreatedAt:         original,
				OriginalCreatedAt: &original,
				ImportedAt:        &now,
				ExternalSale:      true,
			})
		})
	}

	require.NoError(t, insert(fmt.Sprintf("sale-it-a-%d", time.Now().UnixNano())))
	require.ErrorIs(t, insert(fmt.Sprintf("sale-it-b-%d", time.Now().UnixNano())), store.ErrDuplicateTransaction)

	found, err := s.SaleExistsForCustomerAt(ctx, customer.ID, original)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMarkDropUndoneOnlyOnce(t *testing.T) {
	s := newIntegrationStore(t)
	product, _ := seedFixture(t, s, 10)
	ctx := context.Background()
	dropID := fmt.Sprintf("drp-it-%d", time.Now().UnixNano())

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDrop(ctx, domain.InventoryDrop{
			ID:                dropID,
			ProductID:         product.ID,
			ProductName:       product.Name,
			QuantityDropped:   2,
			OriginalQuantity:  10,
			RemainingQuantity: 8,
			PricePerUnit:      product.Price,
			CostOfDrop:        product.Price.Mul(decimal.NewFromInt(2)),
			Reason:            domain.DropReasonExpired,
			DroppedBy:         "slr-it",
			DroppedAt:         time.Now().UTC(),
		})
	}))

	undo := func() error {
		return s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.MarkDropUndone(ctx, dropID, "slr-it", "miscounted", time.Now())
		})
	}
	require.NoError(t, undo())
	require.ErrorIs(t, undo(), store.ErrAlreadyUndone)

	drop, err := s.GetDrop(ctx, dropID)
	require.NoError(t, err)
	assert.True(t, drop.IsUndone)
	assert.Equal(t, "miscounted", drop.UndoReason)
}
