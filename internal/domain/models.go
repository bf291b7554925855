package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"productName"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Count       int             `json:"count"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type ProductCreateRequest struct {
	Name        string          `json:"productName" validate:"required,max=120"`
	Description string          `json:"description" validate:"max=500"`
	Price       decimal.Decimal `json:"price"`
	Count       int             `json:"count" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"productName,omitempty" validate:"omitempty,max=120"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

type Customer struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phoneNumber,omitempty"`
	LastTransaction *time.Time `json:"lastTransaction,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phoneNumber"`
}

// Seller is a staff account. Password holds a bcrypt hash and never leaves the backend.
type Seller struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type SellerCreateRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin superadmin"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	SellerID string
	Email    string
	Role     string
}

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

type SaleLine struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"priceAtSale"`
}

type Sale struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customerId"`
	SellerID          string          `json:"sellerId"`
	Products          []SaleLine      `json:"products"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	AmountPaid        decimal.Decimal `json:"amountPaid"`
	Settled           bool            `json:"settled"`
	SettledAt         *time.Time      `json:"settledAt,omitempty"`
	PaymentMethod     string          `json:"paymentMethod,omitempty"`
	ReceiptURL        string          `json:"receiptUrl,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	OriginalCreatedAt *time.Time      `json:"originalCreatedAt,omitempty"`
	ImportedAt        *time.Time      `json:"importedAt,omitempty"`
	ExternalSale      bool            `json:"externalSale"`
	ImportBatch       string          `json:"importBatch,omitempty"`
}

// MoneyScale is the number of fractional digits a stored amount may carry.
const MoneyScale = 2

var maxMoney = decimal.New(1, 12)

// ValidMoney reports whether d is a non-negative amount with at most
// MoneyScale fractional digits and below one trillion, which every store can
// hold exactly.
func ValidMoney(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(MoneyScale)) && d.LessThan(maxMoney)
}

// Refresh recomputes the derived settlement flag from the stored amounts.
func (s *Sale) Refresh() {
	s.Settled = IsSettled(s.AmountPaid, s.TotalAmount)
}

func IsSettled(amountPaid decimal.Decimal, totalAmount decimal.Decimal) bool {
	return amountPaid.GreaterThanOrEqual(totalAmount)
}

// LinesTotal is the sum of quantity × priceAtSale over all lines.
func LinesTotal(lines []SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.PriceAtSale.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

type SaleItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type SaleCreateRequest struct {
	CustomerID    string            `json:"customerId" validate:"required"`
	Products      []SaleItemRequest `json:"products" validate:"required,min=1,dive"`
	AmountPaid    *decimal.Decimal  `json:"amountPaid,omitempty"`
	PaymentMethod string            `json:"paymentMethod,omitempty" validate:"max=40"`
	ReceiptURL    string            `json:"receiptUrl,omitempty" validate:"omitempty,url"`
}

type SettleSaleRequest struct {
	AmountPaid *decimal.Decimal `json:"amountPaid,omitempty"`
}

// SaleProvenance marks a sale that originates from an external transaction log.
type SaleProvenance struct {
	OriginalCreatedAt time.Time
	ImportedAt        time.Time
	ImportBatch       string
}

type SaleFilter struct {
	CustomerID string
	SellerID   string
	Settled    *bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

type DropReason string

const (
	DropReasonExpired        DropReason = "expired"
	DropReasonEndOfDay       DropReason = "end_of_day"
	DropReasonQualityIssue   DropReason = "quality_issue"
	DropReasonDamaged        DropReason = "damaged"
	DropReasonContaminated   DropReason = "contaminated"
	DropReasonOverproduction DropReason = "overproduction"
	DropReasonOther          DropReason = "other"
)

var DropReasons = []DropReason{
	DropReasonExpired,
	DropReasonEndOfDay,
	DropReasonQualityIssue,
	DropReasonDamaged,
	DropReasonContaminated,
	DropReasonOverproduction,
	DropReasonOther,
}

func (r DropReason) Valid() bool {
	for _, known := range DropReasons {
		if r == known {
			return true
		}
	}
	return false
}

// UndoWindow is how long after droppedAt a drop may still be reversed.
const UndoWindow = 8 * time.Hour

type InventoryDrop struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productId"`
	ProductName       string          `json:"productName"`
	QuantityDropped   int             `json:"quantityDropped"`
	OriginalQuantity  int             `json:"originalQuantity"`
	RemainingQuantity int             `json:"remainingQuantity"`
	PricePerUnit      decimal.Decimal `json:"pricePerUnit"`
	CostOfDrop        decimal.Decimal `json:"costOfDrop"`
	Reason            DropReason      `json:"reason"`
	Notes             string          `json:"notes,omitempty"`
	DroppedBy         string          `json:"droppedBy"`
	DroppedAt         time.Time       `json:"droppedAt"`
	IsUndone          bool            `json:"isUndone"`
	UndoneAt          *time.Time      `json:"undoneAt,omitempty"`
	UndoneBy          string          `json:"undoneBy,omitempty"`
	UndoReason        string          `json:"undoReason,omitempty"`
	UndoDeadline      time.Time       `json:"undoDeadline"`
	CanBeUndone       bool            `json:"canBeUndone"`
}

func (d InventoryDrop) UndoDeadlineAt() time.Time {
	return d.DroppedAt.Add(UndoWindow)
}

// CanUndo guards the single active -> undone transition.
func (d InventoryDrop) CanUndo(now time.Time) bool {
	return !d.IsUndone && !now.After(d.UndoDeadlineAt())
}

func (d *InventoryDrop) Refresh(now time.Time) {
	d.UndoDeadline = d.UndoDeadlineAt()
	d.CanBeUndone = d.CanUndo(now)
}

type InventoryDropRequest struct {
	ProductID      string     `json:"productId" validate:"required"`
	QuantityToDrop int        `json:"quantityToDrop" validate:"required,gt=0"`
	Reason         DropReason `json:"reason,omitempty" validate:"omitempty,drop_reason"`
	Notes          string     `json:"notes,omitempty" validate:"max=500"`
}

type UndoDropRequest struct {
	UndoReason string `json:"undoReason,omitempty" validate:"max=500"`
}

type DropFilter struct {
	ProductID     string
	Reason        DropReason
	DroppedBy     string
	From          *time.Time
	To            *time.Time
	IncludeUndone bool
	Limit         int
}

type DropReasonSummary struct {
	Reason        DropReason      `json:"reason"`
	Count         int             `json:"count"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalCost     decimal.Decimal `json:"totalCost"`
}

type DropAnalytics struct {
	From          time.Time           `json:"from"`
	To            time.Time           `json:"to"`
	TotalDrops    int                 `json:"totalDrops"`
	TotalQuantity int                 `json:"totalQuantity"`
	TotalCost     decimal.Decimal     `json:"totalCost"`
	ByReason      []DropReasonSummary `json:"byReason"`
}

type ImportSummary struct {
	TotalRows       int            `json:"totalRows"`
	Imported        int            `json:"imported"`
	Skipped         int            `json:"skipped"`
	ImportBatchID   string         `json:"importBatchId"`
	SkippedByReason map[string]int `json:"skippedByReason"`
	// Canceled marks a batch whose request ended before the last row; the
	// counts cover the rows that were processed.
	Canceled bool `json:"canceled,omitempty"`
}

type ImportedSale struct {
	Row               int             `json:"row"`
	SaleID            string          `json:"saleId"`
	CustomerID        string          `json:"customerId"`
	ProductID         string          `json:"productId"`
	Quantity          int             `json:"quantity"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	AmountPaid        decimal.Decimal `json:"amountPaid"`
	Settled           bool            `json:"settled"`
	OriginalCreatedAt time.Time       `json:"originalCreatedAt"`
}

type SkippedRow struct {
	Row    int               `json:"row"`
	Reason string            `json:"reason"`
	Errors []string          `json:"errors"`
	Data   map[string]string `json:"data"`
}

type ImportTruncation struct {
	ImportedSales bool `json:"importedSales"`
	SkippedRows   bool `json:"skippedRows"`
	Warnings      bool `json:"warnings"`
}

type ImportReport struct {
	Summary       ImportSummary    `json:"summary"`
	ImportedSales []ImportedSale   `json:"importedSales"`
	SkippedRows   []SkippedRow     `json:"skippedRows"`
	Warnings      []string         `json:"warnings"`
	Truncated     ImportTruncation `json:"truncated"`
	CompletedAt   time.Time        `json:"completedAt"`
}
