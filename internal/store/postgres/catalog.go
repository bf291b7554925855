package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

const productSelect = `
	SELECT id, name, description, price, count, created_at, updated_at
	FROM products`

const customerSelect = `
	SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), last_transaction, created_at
	FROM customers`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Count, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	var last sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &last, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.LastTransaction = timePtr(last)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func getProduct(ctx context.Context, q queryer, id string) (*domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, productSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return product, nil
}

func getCustomer(ctx context.Context, q queryer, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(q.QueryRowContext(ctx, customerSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return customer, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Count < 0 || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Name, product.Description, product.Price, product.Count, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id)
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE lower(name) = lower($1)`, strings.TrimSpace(name)))
	if err != nil {
		return nil, notFound(err)
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, productSelect+` ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, description, price, count, created_at, updated_at
	`, product.ID, product.Name, product.Description, product.Price))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
		return nil, notFound(err)
	}
	return updated, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, last_transaction, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Email), nullIfEmpty(customer.Phone), nullTime(customer.LastTransaction), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("customer %s: %w", violatedConstraint(err), store.ErrAlreadyExists)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, customerSelect+` WHERE email = $1`, email))
	if err != nil {
		return nil, notFound(err)
	}
	return customer, nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, customerSelect+` WHERE phone = $1`, phone))
	if err != nil {
		return nil, notFound(err)
	}
	return customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, customerSelect+`
		ORDER BY lower(name)
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateSeller(ctx context.Context, seller domain.Seller) error {
	seller.Email = strings.ToLower(strings.TrimSpace(seller.Email))
	if seller.Email == "" || strings.TrimSpace(seller.Password) == "" {
		return store.ErrValidation
	}
	if seller.Role == "" {
		seller.Role = domain.RoleUser
	}
	if seller.CreatedAt.IsZero() {
		seller.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sellers (id, name, email, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, seller.ID, seller.Name, seller.Email, seller.Password, seller.Role, seller.Active, seller.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetSellerByEmail(ctx context.Context, email string) (*domain.Seller, error) {
	var seller domain.Seller
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password, role, active, created_at
		FROM sellers
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&seller.ID, &seller.Name, &seller.Email, &seller.Password, &seller.Role, &seller.Active, &seller.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	seller.CreatedAt = seller.CreatedAt.UTC()
	return &seller, nil
}

func (s *Store) ListSellers(ctx context.Context) ([]domain.Seller, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, password, role, active, created_at
		FROM sellers
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sellers := make([]domain.Seller, 0, 16)
	for rows.Next() {
		var seller domain.Seller
		if err := rows.Scan(&seller.ID, &seller.Name, &seller.Email, &seller.Password, &seller.Role, &seller.Active, &seller.CreatedAt); err != nil {
			return nil, err
		}
		seller.CreatedAt = seller.CreatedAt.UTC()
		sellers = append(sellers, seller)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sellers, nil
}
