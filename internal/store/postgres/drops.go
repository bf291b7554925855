package postgres

import (
	"context"
	"database/sql"

	"bitetrack/backend/internal/domain"
)

const dropSelect = `
	SELECT id, product_id, product_name, quantity_dropped, original_quantity,
		remaining_quantity, price_per_unit, cost_of_drop, reason, notes,
		dropped_by, dropped_at, is_undone, undone_at,
		COALESCE(undone_by, ''), COALESCE(undo_reason, '')
	FROM inventory_drops`

func scanDrop(row rowScanner) (*domain.InventoryDrop, error) {
	var drop domain.InventoryDrop
	var reason string
	var undoneAt sql.NullTime
	err := row.Scan(
		&drop.ID,
		&drop.ProductID,
		&drop.ProductName,
		&drop.QuantityDropped,
		&drop.OriginalQuantity,
		&drop.RemainingQuantity,
		&drop.PricePerUnit,
		&drop.CostOfDrop,
		&reason,
		&drop.Notes,
		&drop.DroppedBy,
		&drop.DroppedAt,
		&drop.IsUndone,
		&undoneAt,
		&drop.UndoneBy,
		&drop.UndoReason,
	)
	if err != nil {
		return nil, err
	}
	drop.Reason = domain.DropReason(reason)
	drop.DroppedAt = drop.DroppedAt.UTC()
	drop.UndoneAt = timePtr(undoneAt)
	return &drop, nil
}

func (s *Store) GetDrop(ctx context.Context, id string) (*domain.InventoryDrop, error) {
	drop, err := scanDrop(s.db.QueryRowContext(ctx, dropSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return drop, nil
}

func (s *Store) ListDrops(ctx context.Context, filter domain.DropFilter) ([]domain.InventoryDrop, error) {
	rows, err := s.db.QueryContext(ctx, dropSelect+`
		WHERE ($1::boolean OR is_undone = false)
			AND ($2 = '' OR product_id = $2)
			AND ($3 = '' OR reason = $3)
			AND ($4 = '' OR dropped_by = $4)
			AND ($5::timestamptz IS NULL OR dropped_at >= $5::timestamptz)
			AND ($6::timestamptz IS NULL OR dropped_at <= $6::timestamptz)
		ORDER BY dropped_at DESC
		LIMIT NULLIF($7::int, 0)
	`, filter.IncludeUndone, filter.ProductID, string(filter.Reason), filter.DroppedBy, nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drops := make([]domain.InventoryDrop, 0, 64)
	for rows.Next() {
		drop, err := scanDrop(rows)
		if err != nil {
			return nil, err
		}
		drops = append(drops, *drop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drops, nil
}
