package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

const saleSelect = `
	SELECT id, customer_id, seller_id, total_amount, amount_paid, settled_at,
		COALESCE(payment_method, ''), COALESCE(receipt_url, ''), created_at,
		original_created_at, imported_at, external_sale, COALESCE(import_batch, '')
	FROM sales`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var settledAt, originalCreatedAt, importedAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.CustomerID,
		&sale.SellerID,
		&sale.TotalAmount,
		&sale.AmountPaid,
		&settledAt,
		&sale.PaymentMethod,
		&sale.ReceiptURL,
		&sale.CreatedAt,
		&originalCreatedAt,
		&importedAt,
		&sale.ExternalSale,
		&sale.ImportBatch,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.SettledAt = timePtr(settledAt)
	sale.OriginalCreatedAt = timePtr(originalCreatedAt)
	sale.ImportedAt = timePtr(importedAt)
	sale.Refresh()
	return &sale, nil
}

func loadSaleLines(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleLine, error) {
	lines := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return lines, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, price_at_sale
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Quantity, &line.PriceAtSale); err != nil {
			return nil, err
		}
		lines[saleID] = append(lines[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, saleSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	lines, err := loadSaleLines(ctx, s.db, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Products = lines[sale.ID]
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, saleSelect+`
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2 = '' OR seller_id = $2)
			AND ($3::boolean IS NULL OR (amount_paid >= total_amount) = $3::boolean)
			AND ($4::timestamptz IS NULL OR created_at >= $4::timestamptz)
			AND ($5::timestamptz IS NULL OR created_at <= $5::timestamptz)
		ORDER BY created_at DESC
		LIMIT NULLIF($6::int, 0)
	`, filter.CustomerID, filter.SellerID, nullBool(filter.Settled), nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	lines, err := loadSaleLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Products = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) SaleExistsForCustomerAt(ctx context.Context, customerID string, originalCreatedAt time.Time) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sales
			WHERE customer_id = $1 AND original_created_at = $2
		)
	`, customerID, store.DedupTime(originalCreatedAt)).Scan(&found)
	return found, err
}

func (s *Store) SettleSale(ctx context.Context, id string, amountPaid decimal.Decimal, settledAt *time.Time) (*domain.Sale, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = sqlTx.Rollback() }()

	sale, err := scanSale(sqlTx.QueryRowContext(ctx, saleSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if sale.Settled {
		return nil, store.ErrAlreadySettled
	}

	sale.AmountPaid = amountPaid
	sale.Refresh()
	if sale.Settled && settledAt != nil {
		at := settledAt.UTC()
		sale.SettledAt = &at
	}

	_, err = sqlTx.ExecContext(ctx, `
		UPDATE sales
		SET amount_paid = $2, settled_at = $3
		WHERE id = $1
	`, id, sale.AmountPaid, nullTime(sale.SettledAt))
	if err != nil {
		return nil, err
	}

	lines, err := loadSaleLines(ctx, sqlTx, []string{id})
	if err != nil {
		return nil, err
	}
	sale.Products = lines[id]

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}
