package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bitetrack/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrAlreadySettled        = errors.New("sale already settled")
	ErrAlreadyUndone         = errors.New("inventory drop already undone")
	ErrUndoWindowExpired     = errors.New("undo window expired")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrAlreadyExists         = errors.New("already exists")
	ErrValidation            = errors.New("validation failed")
)

// Tx exposes the reads and writes allowed inside a unit of work. Every write
// made through a Tx becomes visible only if the surrounding WithinTx call
// commits.
type Tx interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	// TouchCustomer moves lastTransaction forward to at; it never moves it back.
	TouchCustomer(ctx context.Context, id string, at time.Time) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock subtracts qty only when count >= qty and returns the new count.
	DecrementStock(ctx context.Context, productID string, qty int) (int, error)
	IncrementStock(ctx context.Context, productID string, qty int) (int, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertDrop(ctx context.Context, drop domain.InventoryDrop) error
	// GetDropForUpdate reads a drop and holds it against concurrent undo until the unit of work ends.
	GetDropForUpdate(ctx context.Context, id string) (*domain.InventoryDrop, error)
	// MarkDropUndone flips isUndone once; a drop that is already undone yields ErrAlreadyUndone.
	MarkDropUndone(ctx context.Context, id string, undoneBy string, reason string, at time.Time) error
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	SaleExistsForCustomerAt(ctx context.Context, customerID string, originalCreatedAt time.Time) (bool, error)
	// SettleSale writes a new amountPaid on a sale that is not settled yet.
	SettleSale(ctx context.Context, id string, amountPaid decimal.Decimal, settledAt *time.Time) (*domain.Sale, error)

	GetDrop(ctx context.Context, id string) (*domain.InventoryDrop, error)
	ListDrops(ctx context.Context, filter domain.DropFilter) ([]domain.InventoryDrop, error)

	CreateSeller(ctx context.Context, seller domain.Seller) error
	GetSellerByEmail(ctx context.Context, email string) (*domain.Seller, error)
	ListSellers(ctx context.Context) ([]domain.Seller, error)
}

// DedupTime is the precision every store uses for originalCreatedAt.
func DedupTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
