package mongodb

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

type productDocument struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"productName"`
	NameLower   string               `bson:"nameLower"`
	Description string               `bson:"description,omitempty"`
	Price       primitive.Decimal128 `bson:"price"`
	Count       int                  `bson:"count"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

type customerDocument struct {
	ID              string     `bson:"_id"`
	Name            string     `bson:"name"`
	Email           string     `bson:"email,omitempty"`
	Phone           string     `bson:"phoneNumber,omitempty"`
	LastTransaction *time.Time `bson:"lastTransaction,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt"`
}

type sellerDocument struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

type saleLineDocument struct {
	ProductID   string               `bson:"productId"`
	Quantity    int                  `bson:"quantity"`
	PriceAtSale primitive.Decimal128 `bson:"priceAtSale"`
}

type saleDocument struct {
	ID                string               `bson:"_id"`
	CustomerID        string               `bson:"customerId"`
	SellerID          string               `bson:"sellerId"`
	Products          []saleLineDocument   `bson:"products"`
	TotalAmount       primitive.Decimal128 `bson:"totalAmount"`
	AmountPaid        primitive.Decimal128 `bson:"amountPaid"`
	Settled           bool                 `bson:"settled"`
	SettledAt         *time.Time           `bson:"settledAt,omitempty"`
	PaymentMethod     string               `bson:"paymentMethod,omitempty"`
	ReceiptURL        string               `bson:"receiptUrl,omitempty"`
	CreatedAt         time.Time            `bson:"createdAt"`
	OriginalCreatedAt *time.Time           `bson:"originalCreatedAt,omitempty"`
	ImportedAt        *time.Time           `bson:"importedAt,omitempty"`
	ExternalSale      bool                 `bson:"externalSale"`
	ImportBatch       string               `bson:"importBatch,omitempty"`
}

type dropDocument struct {
	ID                string               `bson:"_id"`
	ProductID         string               `bson:"productId"`
	ProductName       string               `bson:"productName"`
	QuantityDropped   int                  `bson:"quantityDropped"`
	OriginalQuantity  int                  `bson:"originalQuantity"`
	RemainingQuantity int                  `bson:"remainingQuantity"`
	PricePerUnit      primitive.Decimal128 `bson:"pricePerUnit"`
	CostOfDrop        primitive.Decimal128 `bson:"costOfDrop"`
	Reason            string               `bson:"reason"`
	Notes             string               `bson:"notes,omitempty"`
	DroppedBy         string               `bson:"droppedBy"`
	DroppedAt         time.Time            `bson:"droppedAt"`
	IsUndone          bool                 `bson:"isUndone"`
	UndoneAt          *time.Time           `bson:"undoneAt,omitempty"`
	UndoneBy          string               `bson:"undoneBy,omitempty"`
	UndoReason        string               `bson:"undoReason,omitempty"`
	LockedAt          *time.Time           `bson:"lockedAt,omitempty"`
}

// toDecimal128 rejects amounts that decimal128 cannot hold exactly (more than
// 34 significant digits or an exponent out of range).
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	value, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("amount %s does not fit decimal128: %w", d.String(), store.ErrValidation)
	}
	return value, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("stored amount %s is not a finite decimal: %w", d.String(), err)
	}
	return value, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	at := t.UTC()
	return &at
}

func productToDocument(p domain.Product) (productDocument, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDocument{}, fmt.Errorf("product price: %w", err)
	}
	return productDocument{
		ID:          p.ID,
		Name:        p.Name,
		NameLower:   normalizeName(p.Name),
		Description: p.Description,
		Price:       price,
		Count:       p.Count,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}, nil
}

func (d productDocument) toDomain() (*domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", d.ID, err)
	}
	return &domain.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		Count:       d.Count,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

func customerToDocument(c domain.Customer) customerDocument {
	return customerDocument{
		ID:              c.ID,
		Name:            c.Name,
		Email:           c.Email,
		Phone:           c.Phone,
		LastTransaction: utcPtr(c.LastTransaction),
		CreatedAt:       c.CreatedAt.UTC(),
	}
}

func (d customerDocument) toDomain() *domain.Customer {
	return &domain.Customer{
		ID:              d.ID,
		Name:            d.Name,
		Email:           d.Email,
		Phone:           d.Phone,
		LastTransaction: utcPtr(d.LastTransaction),
		CreatedAt:       d.CreatedAt.UTC(),
	}
}

func (d sellerDocument) toDomain() *domain.Seller {
	return &domain.Seller{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Password:  d.Password,
		Role:      d.Role,
		Active:    d.Active,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func saleToDocument(s domain.Sale) (saleDocument, error) {
	lines := make([]saleLineDocument, 0, len(s.Products))
	for _, line := range s.Products {
		price, err := toDecimal128(line.PriceAtSale)
		if err != nil {
			return saleDocument{}, fmt.Errorf("sale line %s price: %w", line.ProductID, err)
		}
		lines = append(lines, saleLineDocument{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			PriceAtSale: price,
		})
	}
	total, err := toDecimal128(s.TotalAmount)
	if err != nil {
		return saleDocument{}, fmt.Errorf("sale total: %w", err)
	}
	paid, err := toDecimal128(s.AmountPaid)
	if err != nil {
		return saleDocument{}, fmt.Errorf("sale amountPaid: %w", err)
	}
	var originalCreatedAt *time.Time
	if s.OriginalCreatedAt != nil {
		at := store.DedupTime(*s.OriginalCreatedAt)
		originalCreatedAt = &at
	}
	return saleDocument{
		ID:                s.ID,
		CustomerID:        s.CustomerID,
		SellerID:          s.SellerID,
		Products:          lines,
		TotalAmount:       total,
		AmountPaid:        paid,
		Settled:           domain.IsSettled(s.AmountPaid, s.TotalAmount),
		SettledAt:         utcPtr(s.SettledAt),
		PaymentMethod:     s.PaymentMethod,
		ReceiptURL:        s.ReceiptURL,
		CreatedAt:         s.CreatedAt.UTC(),
		OriginalCreatedAt: originalCreatedAt,
		ImportedAt:        utcPtr(s.ImportedAt),
		ExternalSale:      s.ExternalSale,
		ImportBatch:       s.ImportBatch,
	}, nil
}

func (d saleDocument) toDomain() (*domain.Sale, error) {
	lines := make([]domain.SaleLine, 0, len(d.Products))
	for _, line := range d.Products {
		price, err := fromDecimal128(line.PriceAtSale)
		if err != nil {
			return nil, fmt.Errorf("sale %s: %w", d.ID, err)
		}
		lines = append(lines, domain.SaleLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			PriceAtSale: price,
		})
	}
	total, err := fromDecimal128(d.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("sale %s: %w", d.ID, err)
	}
	paid, err := fromDecimal128(d.AmountPaid)
	if err != nil {
		return nil, fmt.Errorf("sale %s: %w", d.ID, err)
	}
	sale := &domain.Sale{
		ID:                d.ID,
		CustomerID:        d.CustomerID,
		SellerID:          d.SellerID,
		Products:          lines,
		TotalAmount:       total,
		AmountPaid:        paid,
		SettledAt:         utcPtr(d.SettledAt),
		PaymentMethod:     d.PaymentMethod,
		ReceiptURL:        d.ReceiptURL,
		CreatedAt:         d.CreatedAt.UTC(),
		OriginalCreatedAt: utcPtr(d.OriginalCreatedAt),
		ImportedAt:        utcPtr(d.ImportedAt),
		ExternalSale:      d.ExternalSale,
		ImportBatch:       d.ImportBatch,
	}
	sale.Refresh()
	return sale, nil
}

func dropToDocument(d domain.InventoryDrop) (dropDocument, error) {
	price, err := toDecimal128(d.PricePerUnit)
	if err != nil {
		return dropDocument{}, fmt.Errorf("drop pricePerUnit: %w", err)
	}
	cost, err := toDecimal128(d.CostOfDrop)
	if err != nil {
		return dropDocument{}, fmt.Errorf("drop costOfDrop: %w", err)
	}
	return dropDocument{
		ID:                d.ID,
		ProductID:         d.ProductID,
		ProductName:       d.ProductName,
		QuantityDropped:   d.QuantityDropped,
		OriginalQuantity:  d.OriginalQuantity,
		RemainingQuantity: d.RemainingQuantity,
		PricePerUnit:      price,
		CostOfDrop:        cost,
		Reason:            string(d.Reason),
		Notes:             d.Notes,
		DroppedBy:         d.DroppedBy,
		DroppedAt:         d.DroppedAt.UTC(),
		IsUndone:          d.IsUndone,
		UndoneAt:          utcPtr(d.UndoneAt),
		UndoneBy:          d.UndoneBy,
		UndoReason:        d.UndoReason,
	}, nil
}

func (d dropDocument) toDomain() (*domain.InventoryDrop, error) {
	price, err := fromDecimal128(d.PricePerUnit)
	if err != nil {
		return nil, fmt.Errorf("drop %s: %w", d.ID, err)
	}
	cost, err := fromDecimal128(d.CostOfDrop)
	if err != nil {
		return nil, fmt.Errorf("drop %s: %w", d.ID, err)
	}
	return &domain.InventoryDrop{
		ID:                d.ID,
		ProductID:         d.ProductID,
		ProductName:       d.ProductName,
		QuantityDropped:   d.QuantityDropped,
		OriginalQuantity:  d.OriginalQuantity,
		RemainingQuantity: d.RemainingQuantity,
		PricePerUnit:      price,
		CostOfDrop:        cost,
		Reason:            domain.DropReason(d.Reason),
		Notes:             d.Notes,
		DroppedBy:         d.DroppedBy,
		DroppedAt:         d.DroppedAt.UTC(),
		IsUndone:          d.IsUndone,
		UndoneAt:          utcPtr(d.UndoneAt),
		UndoneBy:          d.UndoneBy,
		UndoReason:        d.UndoReason,
	}, nil
}
