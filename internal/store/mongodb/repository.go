package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Count < 0 || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt

	doc, err := productToDocument(product)
	if err != nil {
		return nil, err
	}
	if _, err := s.collection(productsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.findProduct(ctx, bson.M{"_id": id})
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	return s.findProduct(ctx, bson.M{"nameLower": normalizeName(name)})
}

func (s *Store) findProduct(ctx context.Context, filter bson.M) (*domain.Product, error) {
	var doc productDocument
	if err := s.collection(productsCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	cursor, err := s.collection(productsCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "nameLower", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, *item)
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	price, err := toDecimal128(product.Price)
	if err != nil {
		return nil, fmt.Errorf("product price: %w", err)
	}
	var doc productDocument
	err = s.collection(productsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": product.ID},
		bson.M{"$set": bson.M{
			"productName": product.Name,
			"nameLower":   normalizeName(product.Name),
			"description": product.Description,
			"price":       price,
			"updatedAt":   time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrAlreadyExists)
		}
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	if _, err := s.collection(customersCollection).InsertOne(ctx, customerToDocument(customer)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("customer contact: %w", store.ErrAlreadyExists)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.findCustomer(ctx, bson.M{"_id": id})
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return s.findCustomer(ctx, bson.M{"email": email})
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	if phone == "" {
		return nil, store.ErrNotFound
	}
	return s.findCustomer(ctx, bson.M{"phoneNumber": phone})
}

func (s *Store) findCustomer(ctx context.Context, filter bson.M) (*domain.Customer, error) {
	var doc customerDocument
	if err := s.collection(customersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection(customersCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []customerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(docs))
	for _, doc := range docs {
		customers = append(customers, *doc.toDomain())
	}
	return customers, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var doc saleDocument
	if err := s.collection(salesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := bson.M{}
	if filter.CustomerID != "" {
		query["customerId"] = filter.CustomerID
	}
	if filter.SellerID != "" {
		query["sellerId"] = filter.SellerID
	}
	if filter.Settled != nil {
		query["settled"] = *filter.Settled
	}
	if createdAt := timeRange(filter.From, filter.To); createdAt != nil {
		query["createdAt"] = createdAt
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.collection(salesCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []saleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		sales = append(sales, *item)
	}
	return sales, nil
}

func (s *Store) SaleExistsForCustomerAt(ctx context.Context, customerID string, originalCreatedAt time.Time) (bool, error) {
	count, err := s.collection(salesCollection).CountDocuments(ctx,
		bson.M{"customerId": customerID, "originalCreatedAt": store.DedupTime(originalCreatedAt)},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SettleSale updates the document only while it is still unsettled; the
// settled flag in the filter makes concurrent settlements race safely.
func (s *Store) SettleSale(ctx context.Context, id string, amountPaid decimal.Decimal, settledAt *time.Time) (*domain.Sale, error) {
	current, err := s.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Settled {
		return nil, store.ErrAlreadySettled
	}

	paid, err := toDecimal128(amountPaid)
	if err != nil {
		return nil, fmt.Errorf("sale %s amountPaid: %w", id, err)
	}
	set := bson.M{
		"amountPaid": paid,
		"settled":    domain.IsSettled(amountPaid, current.TotalAmount),
	}
	if domain.IsSettled(amountPaid, current.TotalAmount) && settledAt != nil {
		set["settledAt"] = settledAt.UTC()
	}

	var doc saleDocument
	err = s.collection(salesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "settled": false},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrAlreadySettled
		}
		return nil, err
	}
	return doc.toDomain()
}

func (s *Store) GetDrop(ctx context.Context, id string) (*domain.InventoryDrop, error) {
	var doc dropDocument
	if err := s.collection(dropsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) ListDrops(ctx context.Context, filter domain.DropFilter) ([]domain.InventoryDrop, error) {
	query := bson.M{}
	if !filter.IncludeUndone {
		query["isUndone"] = false
	}
	if filter.ProductID != "" {
		query["productId"] = filter.ProductID
	}
	if filter.Reason != "" {
		query["reason"] = string(filter.Reason)
	}
	if filter.DroppedBy != "" {
		query["droppedBy"] = filter.DroppedBy
	}
	if droppedAt := timeRange(filter.From, filter.To); droppedAt != nil {
		query["droppedAt"] = droppedAt
	}

	opts := options.Find().SetSort(bson.D{{Key: "droppedAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.collection(dropsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []dropDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	drops := make([]domain.InventoryDrop, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		drops = append(drops, *item)
	}
	return drops, nil
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
	_, err := s.collection(sellersCollection).InsertOne(ctx, sellerDocument{
		ID:        seller.ID,
		Name:      seller.Name,
		Email:     seller.Email,
		Password:  seller.Password,
		Role:      seller.Role,
		Active:    seller.Active,
		CreatedAt: seller.CreatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetSellerByEmail(ctx context.Context, email string) (*domain.Seller, error) {
	var doc sellerDocument
	err := s.collection(sellersCollection).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListSellers(ctx context.Context) ([]domain.Seller, error) {
	cursor, err := s.collection(sellersCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []sellerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sellers := make([]domain.Seller, 0, len(docs))
	for _, doc := range docs {
		sellers = append(sellers, *doc.toDomain())
	}
	return sellers, nil
}

func timeRange(from, to *time.Time) bson.M {
	if from == nil && to == nil {
		return nil
	}
	r := bson.M{}
	if from != nil {
		r["$gte"] = from.UTC()
	}
	if to != nil {
		r["$lte"] = to.UTC()
	}
	return r
}
