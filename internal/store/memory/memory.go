package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	customers    map[string]domain.Customer
	sales        map[string]domain.Sale
	salesByDedup map[string]string
	drops        map[string]domain.InventoryDrop
	sellers      map[string]domain.Seller
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		customers:    make(map[string]domain.Customer),
		sales:        make(map[string]domain.Sale),
		salesByDedup: make(map[string]string),
		drops:        make(map[string]domain.InventoryDrop),
		sellers:      make(map[string]domain.Seller),
	}
}

// NewSeeded returns a store with a demo catalog and one admin seller. The
// admin credentials come from SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD; dev
// defaults are used with a warning when they are unset.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []struct {
		name  string
		price string
		count int
	}{
		{"Chocolate Chip Cookie", "2.50", 120},
		{"Blueberry Muffin", "3.25", 80},
		{"Sourdough Loaf", "7.00", 30},
		{"Iced Coffee", "4.75", 200},
		{"Chicken Empanada", "15.99", 100},
	} {
		id := xid.New("prd")
		s.products[id] = domain.Product{
			ID:        id,
			Name:      p.name,
			Price:     decimal.RequireFromString(p.price),
			Count:     p.count,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	for _, c := range []domain.Customer{
		{Name: "Maria Lopez", Email: "maria.lopez@example.com", Phone: "5551234567"},
		{Name: "James Carter", Email: "jcarter@example.com", Phone: "5559876543"},
	} {
		c.ID = xid.New("cus")
		c.CreatedAt = now
		s.customers[c.ID] = c
	}

	adminEmail := domain.NormalizeEmail(envOr("SEED_ADMIN_EMAIL", "admin@bitetrack.local"))
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin12345")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	s.sellers[adminEmail] = domain.Seller{
		ID:        xid.New("slr"),
		Name:      "Store Admin",
		Email:     adminEmail,
		Password:  string(hash),
		Role:      domain.RoleSuperAdmin,
		Active:    true,
		CreatedAt: now,
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// WithinTx serializes units of work behind the store lock. Writes are applied
// in place and recorded in an undo journal that is replayed backwards when fn
// fails or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, tx)
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	customer, ok := t.s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCustomer(customer), nil
}

func (t *memTx) TouchCustomer(_ context.Context, id string, at time.Time) error {
	customer, ok := t.s.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	if customer.LastTransaction != nil && !at.After(*customer.LastTransaction) {
		return nil
	}
	previous := customer
	stamp := at.UTC()
	customer.LastTransaction = &stamp
	t.s.customers[id] = customer
	t.undo = append(t.undo, func() { t.s.customers[id] = previous })
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) (int, error) {
	product, ok := t.s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if qty < 1 {
		return 0, store.ErrValidation
	}
	if product.Count < qty {
		return 0, store.ErrInsufficientInventory
	}
	previous := product
	product.Count -= qty
	product.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = product
	t.undo = append(t.undo, func() { t.s.products[productID] = previous })
	return product.Count, nil
}

func (t *memTx) IncrementStock(_ context.Context, productID string, qty int) (int, error) {
	product, ok := t.s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if qty < 1 {
		return 0, store.ErrValidation
	}
	previous := product
	product.Count += qty
	product.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = product
	t.undo = append(t.undo, func() { t.s.products[productID] = previous })
	return product.Count, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Products) == 0 {
		return store.ErrValidation
	}
	if _, exists := t.s.sales[sale.ID]; exists {
		return store.ErrAlreadyExists
	}
	dedupKey := ""
	if sale.OriginalCreatedAt != nil {
		dedupKey = saleDedupKey(sale.CustomerID, *sale.OriginalCreatedAt)
		if _, exists := t.s.salesByDedup[dedupKey]; exists {
			return store.ErrDuplicateTransaction
		}
		t.s.salesByDedup[dedupKey] = sale.ID
	}
	t.s.sales[sale.ID] = cloneSale(sale)
	t.undo = append(t.undo, func() {
		delete(t.s.sales, sale.ID)
		if dedupKey != "" {
			delete(t.s.salesByDedup, dedupKey)
		}
	})
	return nil
}

func (t *memTx) InsertDrop(_ context.Context, drop domain.InventoryDrop) error {
	if drop.ID == "" {
		return store.ErrValidation
	}
	if _, exists := t.s.drops[drop.ID]; exists {
		return store.ErrAlreadyExists
	}
	t.s.drops[drop.ID] = drop
	t.undo = append(t.undo, func() { delete(t.s.drops, drop.ID) })
	return nil
}

func (t *memTx) GetDropForUpdate(_ context.Context, id string) (*domain.InventoryDrop, error) {
	drop, ok := t.s.drops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDrop(drop), nil
}

func (t *memTx) MarkDropUndone(_ context.Context, id string, undoneBy string, reason string, at time.Time) error {
	drop, ok := t.s.drops[id]
	if !ok {
		return store.ErrNotFound
	}
	if drop.IsUndone {
		return store.ErrAlreadyUndone
	}
	previous := drop
	stamp := at.UTC()
	drop.IsUndone = true
	drop.UndoneAt = &stamp
	drop.UndoneBy = undoneBy
	drop.UndoReason = reason
	t.s.drops[id] = drop
	t.undo = append(t.undo, func() { t.s.drops[id] = previous })
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Count < 0 || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	for _, existing := range s.products {
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	for _, product := range s.products {
		if strings.EqualFold(product.Name, name) {
			copyProduct := product
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	for id, other := range s.products {
		if id != product.ID && strings.EqualFold(other.Name, product.Name) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
	}
	existing.Name = product.Name
	existing.Description = product.Description
	existing.Price = product.Price
	existing.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.customers {
		if customer.Email != "" && existing.Email == customer.Email {
			return nil, fmt.Errorf("customer email: %w", store.ErrAlreadyExists)
		}
		if customer.Phone != "" && existing.Phone == customer.Phone {
			return nil, fmt.Errorf("customer phone: %w", store.ErrAlreadyExists)
		}
	}
	s.customers[customer.ID] = customer
	return cloneCustomer(customer), nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCustomer(customer), nil
}

func (s *Store) FindCustomerByEmail(_ context.Context, email string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customers {
		if customer.Email != "" && customer.Email == email {
			return cloneCustomer(customer), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customers {
		if customer.Phone != "" && customer.Phone == phone {
			return cloneCustomer(customer), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, *cloneCustomer(c))
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(sale)
	copySale.Refresh()
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SellerID != "" && sale.SellerID != filter.SellerID {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && sale.CreatedAt.After(*filter.To) {
			continue
		}
		copySale := cloneSale(sale)
		copySale.Refresh()
		if filter.Settled != nil && copySale.Settled != *filter.Settled {
			continue
		}
		sales = append(sales, copySale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) SaleExistsForCustomerAt(_ context.Context, customerID string, originalCreatedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.salesByDedup[saleDedupKey(customerID, originalCreatedAt)]
	return exists, nil
}

func (s *Store) SettleSale(_ context.Context, id string, amountPaid decimal.Decimal, settledAt *time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Refresh()
	if sale.Settled {
		return nil, store.ErrAlreadySettled
	}
	sale.AmountPaid = amountPaid
	sale.Refresh()
	if sale.Settled && settledAt != nil {
		stamp := settledAt.UTC()
		sale.SettledAt = &stamp
	}
	s.sales[id] = sale
	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) GetDrop(_ context.Context, id string) (*domain.InventoryDrop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drop, ok := s.drops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDrop(drop), nil
}

func (s *Store) ListDrops(_ context.Context, filter domain.DropFilter) ([]domain.InventoryDrop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drops := make([]domain.InventoryDrop, 0, len(s.drops))
	for _, drop := range s.drops {
		if !filter.IncludeUndone && drop.IsUndone {
			continue
		}
		if filter.ProductID != "" && drop.ProductID != filter.ProductID {
			continue
		}
		if filter.Reason != "" && drop.Reason != filter.Reason {
			continue
		}
		if filter.DroppedBy != "" && drop.DroppedBy != filter.DroppedBy {
			continue
		}
		if filter.From != nil && drop.DroppedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && drop.DroppedAt.After(*filter.To) {
			continue
		}
		drops = append(drops, *cloneDrop(drop))
	}
	slices.SortFunc(drops, func(a, b domain.InventoryDrop) int {
		return b.DroppedAt.Compare(a.DroppedAt)
	})
	if filter.Limit > 0 && len(drops) > filter.Limit {
		drops = drops[:filter.Limit]
	}
	return drops, nil
}

func (s *Store) CreateSeller(_ context.Context, seller domain.Seller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seller.Email == "" || seller.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.sellers[seller.Email]; exists {
		return store.ErrAlreadyExists
	}
	s.sellers[seller.Email] = seller
	return nil
}

func (s *Store) GetSellerByEmail(_ context.Context, email string) (*domain.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seller, ok := s.sellers[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySeller := seller
	return &copySeller, nil
}

func (s *Store) ListSellers(_ context.Context) ([]domain.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sellers := make([]domain.Seller, 0, len(s.sellers))
	for _, seller := range s.sellers {
		sellers = append(sellers, seller)
	}
	slices.SortFunc(sellers, func(a, b domain.Seller) int {
		return strings.Compare(a.Email, b.Email)
	})
	return sellers, nil
}

func saleDedupKey(customerID string, originalCreatedAt time.Time) string {
	return customerID + "|" + store.DedupTime(originalCreatedAt).Format(time.RFC3339Nano)
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Products = slices.Clone(sale.Products)
	if sale.SettledAt != nil {
		at := *sale.SettledAt
		sale.SettledAt = &at
	}
	if sale.OriginalCreatedAt != nil {
		at := *sale.OriginalCreatedAt
		sale.OriginalCreatedAt = &at
	}
	if sale.ImportedAt != nil {
		at := *sale.ImportedAt
		sale.ImportedAt = &at
	}
	return sale
}

func cloneCustomer(customer domain.Customer) *domain.Customer {
	if customer.LastTransaction != nil {
		at := *customer.LastTransaction
		customer.LastTransaction = &at
	}
	return &customer
}

func cloneDrop(drop domain.InventoryDrop) *domain.InventoryDrop {
	if drop.UndoneAt != nil {
		at := *drop.UndoneAt
		drop.UndoneAt = &at
	}
	return &drop
}

var _ store.Repository = (*Store)(nil)
