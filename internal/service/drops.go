package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/xid"
)

const (
	maxDropNotes          = 500
	defaultAnalyticsRange = 30 * 24 * time.Hour
)

// DropInventory writes off stock and records a drop that stays reversible for
// the undo window.
func (s *Service) DropInventory(ctx context.Context, req domain.InventoryDropRequest) (domain.InventoryDrop, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.Reason == "" {
		req.Reason = domain.DropReasonOther
	}
	switch {
	case req.ProductID == "":
		return domain.InventoryDrop{}, fmt.Errorf("productId is required: %w", store.ErrValidation)
	case req.QuantityToDrop < 1:
		return domain.InventoryDrop{}, fmt.Errorf("quantityToDrop must be at least 1: %w", store.ErrValidation)
	case !req.Reason.Valid():
		return domain.InventoryDrop{}, fmt.Errorf("unknown drop reason %q: %w", req.Reason, store.ErrValidation)
	case utf8.RuneCountInString(req.Notes) > maxDropNotes:
		return domain.InventoryDrop{}, fmt.Errorf("notes exceed %d characters: %w", maxDropNotes, store.ErrValidation)
	}

	now := s.clock()
	var drop domain.InventoryDrop
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("product %s: %w", req.ProductID, err)
		}
		if product.Count < req.QuantityToDrop {
			return fmt.Errorf("product %s has %d in stock, %d to drop: %w", product.Name, product.Count, req.QuantityToDrop, store.ErrInsufficientInventory)
		}
		remaining, err := tx.DecrementStock(ctx, product.ID, req.QuantityToDrop)
		if err != nil {
			return fmt.Errorf("product %s: %w", product.ID, err)
		}

		drop = domain.InventoryDrop{
			ID:                xid.New("drop"),
			ProductID:         product.ID,
			ProductName:       product.Name,
			QuantityDropped:   req.QuantityToDrop,
			OriginalQuantity:  remaining + req.QuantityToDrop,
			RemainingQuantity: remaining,
			PricePerUnit:      product.Price,
			CostOfDrop:        product.Price.Mul(decimal.NewFromInt(int64(req.QuantityToDrop))),
			Reason:            req.Reason,
			Notes:             req.Notes,
			DroppedBy:         actorID(ctx),
			DroppedAt:         now,
		}
		return tx.InsertDrop(ctx, drop)
	})
	if err != nil {
		return domain.InventoryDrop{}, err
	}

	drop.Refresh(now)
	s.metrics.DropCreated(string(drop.Reason))
	s.logger.InfoContext(ctx, "inventory dropped",
		"dropId", drop.ID,
		"productId", drop.ProductID,
		"quantity", drop.QuantityDropped,
		"reason", drop.Reason,
		"cost", drop.CostOfDrop.String(),
		"droppedBy", drop.DroppedBy,
	)
	return drop, nil
}

// UndoInventoryDrop restores the dropped quantity. It succeeds at most once per
// drop and only until droppedAt plus the undo window, inclusive.
func (s *Service) UndoInventoryDrop(ctx context.Context, dropID string, req domain.UndoDropRequest) (domain.InventoryDrop, error) {
	dropID = strings.TrimSpace(dropID)
	undoReason := strings.TrimSpace(req.UndoReason)
	if dropID == "" {
		return domain.InventoryDrop{}, fmt.Errorf("dropId is required: %w", store.ErrValidation)
	}
	if utf8.RuneCountInString(undoReason) > maxDropNotes {
		return domain.InventoryDrop{}, fmt.Errorf("undoReason exceeds %d characters: %w", maxDropNotes, store.ErrValidation)
	}

	now := s.clock()
	undoneBy := actorID(ctx)
	var drop domain.InventoryDrop
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetDropForUpdate(ctx, dropID)
		if err != nil {
			return fmt.Errorf("drop %s: %w", dropID, err)
		}
		if current.IsUndone {
			return fmt.Errorf("drop %s: %w", dropID, store.ErrAlreadyUndone)
		}
		if !current.CanUndo(now) {
			return fmt.Errorf("drop %s expired at %s: %w", dropID, current.UndoDeadlineAt().Format(time.RFC3339), store.ErrUndoWindowExpired)
		}
		if _, err := tx.IncrementStock(ctx, current.ProductID, current.QuantityDropped); err != nil {
			return fmt.Errorf("product %s: %w", current.ProductID, err)
		}
		if err := tx.MarkDropUndone(ctx, dropID, undoneBy, undoReason, now); err != nil {
			return fmt.Errorf("drop %s: %w", dropID, err)
		}

		drop = *current
		drop.IsUndone = true
		drop.UndoneAt = &now
		drop.UndoneBy = undoneBy
		drop.UndoReason = undoReason
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyUndone) || errors.Is(err, store.ErrUndoWindowExpired) {
			s.metrics.DropUndoRejected(failureReason(err))
		}
		return domain.InventoryDrop{}, err
	}

	drop.Refresh(now)
	s.metrics.DropUndone()
	s.logger.InfoContext(ctx, "inventory drop undone",
		"dropId", drop.ID,
		"productId", drop.ProductID,
		"quantity", drop.QuantityDropped,
		"undoneBy", drop.UndoneBy,
	)
	return drop, nil
}

func (s *Service) GetDrop(ctx context.Context, dropID string) (domain.InventoryDrop, error) {
	drop, err := s.repo.GetDrop(ctx, strings.TrimSpace(dropID))
	if err != nil {
		return domain.InventoryDrop{}, fmt.Errorf("drop %s: %w", dropID, err)
	}
	drop.Refresh(s.clock())
	return *drop, nil
}

func (s *Service) ListDrops(ctx context.Context, filter domain.DropFilter) ([]domain.InventoryDrop, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, fmt.Errorf("unknown drop reason %q: %w", filter.Reason, store.ErrValidation)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("from must not be after to: %w", store.ErrValidation)
	}
	drops, err := s.repo.ListDrops(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for i := range drops {
		drops[i].Refresh(now)
	}
	return drops, nil
}

// ListUndoableDrops returns the drops that can still be reversed right now.
func (s *Service) ListUndoableDrops(ctx context.Context) ([]domain.InventoryDrop, error) {
	now := s.clock()
	from := now.Add(-domain.UndoWindow)
	drops, err := s.repo.ListDrops(ctx, domain.DropFilter{From: &from})
	if err != nil {
		return nil, err
	}
	undoable := make([]domain.InventoryDrop, 0, len(drops))
	for _, drop := range drops {
		drop.Refresh(now)
		if drop.CanBeUndone {
			undoable = append(undoable, drop)
		}
	}
	return undoable, nil
}

// DropAnalytics totals active drops per reason over [from, to]. Undone drops
// are excluded. Zero bounds default to the last 30 days.
func (s *Service) DropAnalytics(ctx context.Context, from, to time.Time) (domain.DropAnalytics, error) {
	if to.IsZero() {
		to = s.clock()
	}
	if from.IsZero() {
		from = to.Add(-defaultAnalyticsRange)
	}
	from, to = from.UTC(), to.UTC()
	if from.After(to) {
		return domain.DropAnalytics{}, fmt.Errorf("from must not be after to: %w", store.ErrValidation)
	}

	drops, err := s.repo.ListDrops(ctx, domain.DropFilter{From: &from, To: &to})
	if err != nil {
		return domain.DropAnalytics{}, err
	}

	byReason := make(map[domain.DropReason]*domain.DropReasonSummary, len(domain.DropReasons))
	analytics := domain.DropAnalytics{From: from, To: to, TotalCost: decimal.Zero}
	for _, drop := range drops {
		if drop.IsUndone {
			continue
		}
		summary, ok := byReason[drop.Reason]
		if !ok {
			summary = &domain.DropReasonSummary{Reason: drop.Reason, TotalCost: decimal.Zero}
			byReason[drop.Reason] = summary
		}
		summary.Count++
		summary.TotalQuantity += drop.QuantityDropped
		summary.TotalCost = summary.TotalCost.Add(drop.CostOfDrop)

		analytics.TotalDrops++
		analytics.TotalQuantity += drop.QuantityDropped
		analytics.TotalCost = analytics.TotalCost.Add(drop.CostOfDrop)
	}

	analytics.ByReason = make([]domain.DropReasonSummary, 0, len(byReason))
	for _, reason := range domain.DropReasons {
		if summary, ok := byReason[reason]; ok {
			analytics.ByReason = append(analytics.ByReason, *summary)
		}
	}
	return analytics, nil
}
