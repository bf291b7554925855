package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

type pgTx struct {
	q queryer
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, t.q, id)
}

func (t *pgTx) TouchCustomer(ctx context.Context, id string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE customers
		SET last_transaction = $2
		WHERE id = $1 AND (last_transaction IS NULL OR last_transaction < $2)
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	found, err := exists(ctx, t.q, "customers", id)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.q, id)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	var remaining int
	err := t.q.QueryRowContext(ctx, `
		UPDATE products
		SET count = count - $1, updated_at = now()
		WHERE id = $2 AND count >= $1
		RETURNING count
	`, qty, productID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	found, err := exists(ctx, t.q, "products", productID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, store.ErrNotFound
	}
	return 0, store.ErrInsufficientInventory
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	var count int
	err := t.q.QueryRowContext(ctx, `
		UPDATE products
		SET count = count + $1, updated_at = now()
		WHERE id = $2
		RETURNING count
	`, qty, productID).Scan(&count)
	if err != nil {
		return 0, notFound(err)
	}
	return count, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Products) == 0 {
		return store.ErrValidation
	}
	var originalCreatedAt any
	if sale.OriginalCreatedAt != nil {
		originalCreatedAt = store.DedupTime(*sale.OriginalCreatedAt)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, seller_id, total_amount, amount_paid, settled_at,
			payment_method, receipt_url, created_at, original_created_at,
			imported_at, external_sale, import_batch
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.CustomerID, sale.SellerID, sale.TotalAmount, sale.AmountPaid, nullTime(sale.SettledAt),
		nullIfEmpty(sale.PaymentMethod), nullIfEmpty(sale.ReceiptURL), sale.CreatedAt.UTC(), originalCreatedAt,
		nullTime(sale.ImportedAt), sale.ExternalSale, nullIfEmpty(sale.ImportBatch))
	if err != nil {
		switch {
		case isUniqueViolation(err) && violatedConstraint(err) == "sales_import_dedup_key":
			return store.ErrDuplicateTransaction
		case isUniqueViolation(err):
			return store.ErrAlreadyExists
		case isForeignKeyViolation(err):
			return store.ErrNotFound
		}
		return err
	}

	for i, line := range sale.Products {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, quantity, price_at_sale)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.PriceAtSale)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) InsertDrop(ctx context.Context, drop domain.InventoryDrop) error {
	if drop.ID == "" {
		return store.ErrValidation
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO inventory_drops (
			id, product_id, product_name, quantity_dropped, original_quantity,
			remaining_quantity, price_per_unit, cost_of_drop, reason, notes,
			dropped_by, dropped_at, is_undone
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false)
	`, drop.ID, drop.ProductID, drop.ProductName, drop.QuantityDropped, drop.OriginalQuantity,
		drop.RemainingQuantity, drop.PricePerUnit, drop.CostOfDrop, string(drop.Reason), drop.Notes,
		drop.DroppedBy, drop.DroppedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (t *pgTx) GetDropForUpdate(ctx context.Context, id string) (*domain.InventoryDrop, error) {
	row := t.q.QueryRowContext(ctx, dropSelect+` WHERE id = $1 FOR UPDATE`, id)
	drop, err := scanDrop(row)
	if err != nil {
		return nil, notFound(err)
	}
	return drop, nil
}

func (t *pgTx) MarkDropUndone(ctx context.Context, id string, undoneBy string, reason string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE inventory_drops
		SET is_undone = true, undone_at = $2, undone_by = $3, undo_reason = $4
		WHERE id = $1 AND is_undone = false
	`, id, at.UTC(), undoneBy, nullIfEmpty(reason))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	found, err := exists(ctx, t.q, "inventory_drops", id)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return store.ErrAlreadyUndone
}
