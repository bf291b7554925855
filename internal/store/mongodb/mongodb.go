package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"bitetrack/backend/internal/store"
)

const (
	productsCollection  = "products"
	customersCollection = "customers"
	sellersCollection   = "sellers"
	salesCollection     = "sales"
	dropsCollection     = "inventorydrops"

	importDedupIndex = "customerId_originalCreatedAt_dedup"
)

type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017/?replicaSet=rs0",
		Database:       "bitetrack",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    50,
	}
}

// Store keeps every aggregate in its own collection. Units of work run inside
// multi-document transactions, so the server must be a replica set.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Store{client: client, database: client.Database(cfg.Database)}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

// EnsureIndexes creates the unique and lookup indexes every query relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	present := func(field string) bson.M {
		return bson.M{field: bson.M{"$exists": true}}
	}

	indexes := map[string][]mongo.IndexModel{
		productsCollection: {
			{Keys: bson.D{{Key: "nameLower", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		customersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetPartialFilterExpression(present("email"))},
			{Keys: bson.D{{Key: "phoneNumber", Value: 1}}, Options: options.Index().SetUnique(true).SetPartialFilterExpression(present("phoneNumber"))},
		},
		sellersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		salesCollection: {
			{
				Keys:    bson.D{{Key: "customerId", Value: 1}, {Key: "originalCreatedAt", Value: 1}},
				Options: options.Index().SetName(importDedupIndex).SetUnique(true).SetPartialFilterExpression(present("originalCreatedAt")),
			},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		dropsCollection: {
			{Keys: bson.D{{Key: "droppedAt", Value: -1}}},
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "droppedAt", Value: -1}}},
		},
	}

	for name, models := range indexes {
		if _, err := s.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

// WithinTx runs fn inside a session transaction. The driver retries fn on
// transient transaction errors such as write conflicts.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx, &mongoTx{s: s})
	})
	return err
}

func (s *Store) exists(ctx context.Context, collection string, id string) (bool, error) {
	count, err := s.collection(collection).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func isDuplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

var _ store.Repository = (*Store)(nil)
