package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/xid"
)

const (
	saleSourcePOS    = "pos"
	saleSourceImport = "import"
)

// CreateSale records a sale and decrements stock for every line in one unit of
// work. Either every write lands or none does.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	return s.createSale(ctx, req, nil)
}

// CreateImportedSale is CreateSale for a row of an external transaction log.
// The provenance fields feed the import dedup key.
func (s *Service) CreateImportedSale(ctx context.Context, req domain.SaleCreateRequest, provenance domain.SaleProvenance) (domain.Sale, error) {
	if provenance.OriginalCreatedAt.IsZero() {
		return domain.Sale{}, fmt.Errorf("originalCreatedAt is required: %w", store.ErrValidation)
	}
	return s.createSale(ctx, req, &provenance)
}

func (s *Service) createSale(ctx context.Context, req domain.SaleCreateRequest, provenance *domain.SaleProvenance) (domain.Sale, error) {
	source := saleSourcePOS
	if provenance != nil {
		source = saleSourceImport
	}

	req, amountPaid, err := normalizeSaleRequest(req)
	if err != nil {
		s.metrics.SaleRejected(failureReason(err))
		return domain.Sale{}, err
	}

	now := s.clock()
	activityAt := now
	var sale domain.Sale

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}

		lines := make([]domain.SaleLine, 0, len(req.Products))
		for _, item := range req.Products {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				return fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			if product.Count < item.Quantity {
				return fmt.Errorf("product %s has %d in stock, %d requested: %w", product.Name, product.Count, item.Quantity, store.ErrInsufficientInventory)
			}
			lines = append(lines, domain.SaleLine{
				ProductID:   product.ID,
				Quantity:    item.Quantity,
				PriceAtSale: product.Price,
			})
		}

		for _, line := range lines {
			if _, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				return fmt.Errorf("product %s: %w", line.ProductID, err)
			}
		}

		sale = domain.Sale{
			ID:            xid.New("sale"),
			CustomerID:    req.CustomerID,
			SellerID:      actorID(ctx),
			Products:      lines,
			TotalAmount:   domain.LinesTotal(lines),
			AmountPaid:    amountPaid,
			PaymentMethod: req.PaymentMethod,
			ReceiptURL:    req.ReceiptURL,
			CreatedAt:     now,
		}
		settledAt := now
		if provenance != nil {
			original := store.DedupTime(provenance.OriginalCreatedAt)
			importedAt := provenance.ImportedAt.UTC()
			if importedAt.IsZero() {
				importedAt = now
			}
			sale.OriginalCreatedAt = &original
			sale.ImportedAt = &importedAt
			sale.ExternalSale = true
			sale.ImportBatch = provenance.ImportBatch
			settledAt = original
			activityAt = original
		}
		sale.Refresh()
		if sale.Settled {
			sale.SettledAt = &settledAt
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := tx.TouchCustomer(ctx, req.CustomerID, activityAt); err != nil {
			return fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
		return nil
	})
	if err != nil {
		s.metrics.SaleRejected(failureReason(err))
		s.logger.DebugContext(ctx, "sale rejected", "customerId", req.CustomerID, "source", source, "error", err)
		return domain.Sale{}, err
	}

	s.metrics.SaleCreated(source)
	s.logger.InfoContext(ctx, "sale created",
		"saleId", sale.ID,
		"customerId", sale.CustomerID,
		"sellerId", sale.SellerID,
		"total", sale.TotalAmount.String(),
		"settled", sale.Settled,
		"source", source,
	)
	return sale, nil
}

func normalizeSaleRequest(req domain.SaleCreateRequest) (domain.SaleCreateRequest, decimal.Decimal, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	req.ReceiptURL = strings.TrimSpace(req.ReceiptURL)
	if req.CustomerID == "" {
		return req, decimal.Zero, fmt.Errorf("customerId is required: %w", store.ErrValidation)
	}
	if len(req.Products) == 0 {
		return req, decimal.Zero, fmt.Errorf("at least one product is required: %w", store.ErrValidation)
	}

	items := make([]domain.SaleItemRequest, 0, len(req.Products))
	for i, item := range req.Products {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return req, decimal.Zero, fmt.Errorf("products[%d].productId is required: %w", i, store.ErrValidation)
		}
		if item.Quantity < 1 {
			return req, decimal.Zero, fmt.Errorf("products[%d].quantity must be at least 1: %w", i, store.ErrValidation)
		}
		items = append(items, item)
	}
	req.Products = items

	amountPaid := decimal.Zero
	if req.AmountPaid != nil {
		amountPaid = *req.AmountPaid
	}
	if amountPaid.IsNegative() {
		return req, decimal.Zero, fmt.Errorf("amountPaid must not be negative: %w", store.ErrValidation)
	}
	if !domain.ValidMoney(amountPaid) {
		return req, decimal.Zero, fmt.Errorf("amountPaid %s must have at most %d decimals: %w", amountPaid.String(), domain.MoneyScale, store.ErrValidation)
	}
	return req, amountPaid, nil
}

// SettleSale records a payment on an unsettled sale. A nil amount pays the
// sale in full.
func (s *Service) SettleSale(ctx context.Context, saleID string, amountPaid *decimal.Decimal) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, fmt.Errorf("saleId is required: %w", store.ErrValidation)
	}
	if amountPaid != nil && amountPaid.IsNegative() {
		return domain.Sale{}, fmt.Errorf("amountPaid must not be negative: %w", store.ErrValidation)
	}
	if amountPaid != nil && !domain.ValidMoney(*amountPaid) {
		return domain.Sale{}, fmt.Errorf("amountPaid %s must have at most %d decimals: %w", amountPaid.String(), domain.MoneyScale, store.ErrValidation)
	}

	existing, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", saleID, err)
	}
	if existing.Settled {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", saleID, store.ErrAlreadySettled)
	}

	paid := existing.TotalAmount
	if amountPaid != nil {
		paid = *amountPaid
	}
	now := s.clock()
	updated, err := s.repo.SettleSale(ctx, saleID, paid, &now)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", saleID, err)
	}

	if updated.Settled {
		s.metrics.SaleSettled()
	}
	s.logger.InfoContext(ctx, "sale settlement recorded",
		"saleId", saleID,
		"amountPaid", updated.AmountPaid.String(),
		"settled", updated.Settled,
		"actor", actorID(ctx),
	)
	return *updated, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", saleID, err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("from must not be after to: %w", store.ErrValidation)
	}
	return s.repo.ListSales(ctx, filter)
}

// SaleExistsForCustomerAt reports whether the import dedup key is already taken.
func (s *Service) SaleExistsForCustomerAt(ctx context.Context, customerID string, originalCreatedAt time.Time) (bool, error) {
	return s.repo.SaleExistsForCustomerAt(ctx, customerID, originalCreatedAt)
}
