package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, err)
	}
	return *product, nil
}

// FindProductByName matches the product name exactly, ignoring case and
// surrounding whitespace.
func (s *Service) FindProductByName(ctx context.Context, name string) (domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("product name is required: %w", store.ErrValidation)
	}
	product, err := s.repo.FindProductByName(ctx, name)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %q: %w", name, err)
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("productName is required: %w", store.ErrValidation)
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("price must not be negative: %w", store.ErrValidation)
	}
	if !domain.ValidMoney(req.Price) {
		return domain.Product{}, fmt.Errorf("price %s must have at most %d decimals: %w", req.Price.String(), domain.MoneyScale, store.ErrValidation)
	}
	if req.Count < 0 {
		return domain.Product{}, fmt.Errorf("count must not be negative: %w", store.ErrValidation)
	}

	now := s.clock()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:          xid.New("prd"),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Count:       req.Count,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.InfoContext(ctx, "product created", "productId", created.ID, "name", created.Name, "actor", actorID(ctx))
	return *created, nil
}

// UpdateProduct changes the descriptive fields and price. Stock moves only
// through sales, drops and undos.
func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, err)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("productName must not be empty: %w", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("price must not be negative: %w", store.ErrValidation)
		}
		if !domain.ValidMoney(*req.Price) {
			return domain.Product{}, fmt.Errorf("price %s must have at most %d decimals: %w", req.Price.String(), domain.MoneyScale, store.ErrValidation)
		}
		updated.Price = *req.Price
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	if !existing.Price.Equal(saved.Price) {
		s.logger.InfoContext(ctx, "product price changed",
			"productId", saved.ID,
			"oldPrice", existing.Price.String(),
			"newPrice", saved.Price.String(),
			"actor", actorID(ctx),
		)
	}
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, fmt.Errorf("customer %s: %w", customerID, err)
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	email := domain.NormalizeEmail(req.Email)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("name is required: %w", store.ErrValidation)
	}

	phone := ""
	if strings.TrimSpace(req.Phone) != "" {
		normalized, err := domain.NormalizePhone(req.Phone)
		if err != nil {
			return domain.Customer{}, fmt.Errorf("%v: %w", err, store.ErrValidation)
		}
		phone = normalized
	}
	if email == "" && phone == "" {
		return domain.Customer{}, fmt.Errorf("email or phoneNumber is required: %w", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Email:     email,
		Phone:     phone,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

// FindCustomerByContact resolves an email (anything containing "@") or a phone
// number to a customer.
func (s *Service) FindCustomerByContact(ctx context.Context, contact string) (domain.Customer, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return domain.Customer{}, fmt.Errorf("contact is required: %w", store.ErrValidation)
	}

	var (
		customer *domain.Customer
		err      error
	)
	if domain.IsEmailContact(contact) {
		customer, err = s.repo.FindCustomerByEmail(ctx, domain.NormalizeEmail(contact))
	} else {
		phone, phoneErr := domain.NormalizePhone(contact)
		if phoneErr != nil {
			return domain.Customer{}, fmt.Errorf("contact %q: %w", contact, store.ErrNotFound)
		}
		customer, err = s.repo.FindCustomerByPhone(ctx, phone)
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("contact %q: %w", contact, err)
	}
	return *customer, nil
}

func (s *Service) CreateSeller(ctx context.Context, req domain.SellerCreateRequest) (domain.Seller, error) {
	email := domain.NormalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleUser
	}
	switch {
	case name == "" || email == "":
		return domain.Seller{}, fmt.Errorf("name and email are required: %w", store.ErrValidation)
	case len(req.Password) < 8:
		return domain.Seller{}, fmt.Errorf("password must be at least 8 characters: %w", store.ErrValidation)
	case role != domain.RoleUser && role != domain.RoleAdmin && role != domain.RoleSuperAdmin:
		return domain.Seller{}, fmt.Errorf("unknown role %q: %w", role, store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.Seller{}, fmt.Errorf("password too long: %w", store.ErrValidation)
		}
		return domain.Seller{}, err
	}

	seller := domain.Seller{
		ID:        xid.New("slr"),
		Name:      name,
		Email:     email,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: s.clock(),
	}
	if err := s.repo.CreateSeller(ctx, seller); err != nil {
		return domain.Seller{}, fmt.Errorf("seller %s: %w", email, err)
	}
	s.logger.InfoContext(ctx, "seller created", "sellerId", seller.ID, "role", seller.Role, "actor", actorID(ctx))
	seller.Password = ""
	return seller, nil
}

func (s *Service) ListSellers(ctx context.Context) ([]domain.Seller, error) {
	sellers, err := s.repo.ListSellers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sellers {
		sellers[i].Password = ""
	}
	return sellers, nil
}
