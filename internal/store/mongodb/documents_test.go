package mongodb

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

func TestDecimalRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("15.99")
	stored, err := toDecimal128(price)
	require.NoError(t, err)
	back, err := fromDecimal128(stored)
	require.NoError(t, err)
	assert.True(t, price.Equal(back))
}

func TestDecimalOutOfRangeIsRejected(t *testing.T) {
	for _, raw := range []string{
		"0.12345678901234567890123456789012345678",
		"123456789012345678901234567890123456.5",
	} {
		_, err := toDecimal128(decimal.RequireFromString(raw))
		assert.ErrorIs(t, err, store.ErrValidation, raw)
	}
}

func TestSaleDocumentRejectsUnstorableAmountPaid(t *testing.T) {
	sale := domain.Sale{
		ID:          "sale-1",
		CustomerID:  "cus-1",
		Products:    []domain.SaleLine{{ProductID: "prd-1", Quantity: 2, PriceAtSale: decimal.RequireFromString("15.99")}},
		TotalAmount: decimal.RequireFromString("31.98"),
		AmountPaid:  decimal.RequireFromString("123456789012345678901234567890123456.5"),
		CreatedAt:   time.Now(),
	}

	_, err := saleToDocument(sale)
	assert.ErrorIs(t, err, store.ErrValidation)

	sale.AmountPaid = decimal.RequireFromString("10")
	doc, err := saleToDocument(sale)
	require.NoError(t, err)
	assert.False(t, doc.Settled)

	back, err := doc.toDomain()
	require.NoError(t, err)
	assert.True(t, back.AmountPaid.Equal(sale.AmountPaid))
	assert.Equal(t, doc.Settled, back.Settled)
}

func TestDropAndProductDocumentsRejectUnstorableMoney(t *testing.T) {
	huge := decimal.RequireFromString("0.12345678901234567890123456789012345678")

	_, err := productToDocument(domain.Product{ID: "prd-1", Name: "Roll", Price: huge})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = dropToDocument(domain.InventoryDrop{ID: "drp-1", PricePerUnit: decimal.RequireFromString("1.00"), CostOfDrop: huge})
	assert.ErrorIs(t, err, store.ErrValidation)
}
