package mongodb

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
	uri := os.Getenv("BITETRACK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set BITETRACK_TEST_MONGO_URI to run mongodb integration test")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URI = uri
	cfg.Database = fmt.Sprintf("bitetrack_it_%d", time.Now().UnixNano())
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.database.Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestMongoSaleUnitOfWork(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{ID: "prd-1", Name: "Empanada", Price: decimal.RequireFromString("15.99"), Count: 3})
	require.NoError(t, err)
	customer, err := s.CreateCustomer(ctx, domain.Customer{ID: "cus-1", Name: "Ana", Phone: "5550001111"})
	require.NoError(t, err)

	original := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	sale := domain.Sale{
		ID:                "sale-1",
		CustomerID:        customer.ID,
		SellerID:          "slr-1",
		Products:          []domain.SaleLine{{ProductID: product.ID, Quantity: 2, PriceAtSale: product.Price}},
		TotalAmount:       decimal.RequireFromString("31.98"),
		AmountPaid:        decimal.RequireFromString("10"),
		CreatedAt:         original,
		OriginalCreatedAt: &original,
		ExternalSale:      true,
	}
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.DecrementStock(ctx, product.ID, 2); err != nil {
			return err
		}
		return tx.InsertSale(ctx, sale)
	}))

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DecrementStock(ctx, product.ID, 2)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientInventory)

	sale.ID = "sale-2"
	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, sale)
	})
	require.ErrorIs(t, err, store.ErrDuplicateTransaction)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	settled, err := s.SettleSale(ctx, "sale-1", decimal.RequireFromString("31.98"), &original)
	require.NoError(t, err)
	assert.True(t, settled.Settled)
	_, err = s.SettleSale(ctx, "sale-1", decimal.RequireFromString("40"), &original)
	require.ErrorIs(t, err, store.ErrAlreadySettled)
}
