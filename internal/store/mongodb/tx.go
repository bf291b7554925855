package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/store"
)

// mongoTx issues every call with the session context handed to WithinTx.
type mongoTx struct {
	s *Store
}

func (t *mongoTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return t.s.GetCustomer(ctx, id)
}

func (t *mongoTx) TouchCustomer(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res, err := t.s.collection(customersCollection).UpdateOne(ctx,
		bson.M{
			"_id": id,
			"$or": bson.A{
				bson.M{"lastTransaction": bson.M{"$exists": false}},
				bson.M{"lastTransaction": nil},
				bson.M{"lastTransaction": bson.M{"$lt": at}},
			},
		},
		bson.M{"$set": bson.M{"lastTransaction": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := t.s.exists(ctx, customersCollection, id)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (t *mongoTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.s.GetProduct(ctx, id)
}

func (t *mongoTx) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	var doc productDocument
	err := t.s.collection(productsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": productID, "count": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"count": -qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.Count, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, err
	}
	found, err := t.s.exists(ctx, productsCollection, productID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, store.ErrNotFound
	}
	return 0, store.ErrInsufficientInventory
}

func (t *mongoTx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	var doc productDocument
	err := t.s.collection(productsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": productID},
		bson.M{
			"$inc": bson.M{"count": qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, notFound(err)
	}
	return doc.Count, nil
}

func (t *mongoTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Products) == 0 {
		return store.ErrValidation
	}
	doc, err := saleToDocument(sale)
	if err != nil {
		return err
	}
	_, err = t.s.collection(salesCollection).InsertOne(ctx, doc)
	if err != nil {
		switch {
		case isDuplicateOn(err, importDedupIndex):
			return store.ErrDuplicateTransaction
		case mongo.IsDuplicateKeyError(err):
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (t *mongoTx) InsertDrop(ctx context.Context, drop domain.InventoryDrop) error {
	if drop.ID == "" {
		return store.ErrValidation
	}
	doc, err := dropToDocument(drop)
	if err != nil {
		return err
	}
	_, err = t.s.collection(dropsCollection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetDropForUpdate stamps lockedAt so a concurrent transaction touching the
// same drop hits a write conflict and is retried by the driver.
func (t *mongoTx) GetDropForUpdate(ctx context.Context, id string) (*domain.InventoryDrop, error) {
	var doc dropDocument
	err := t.s.collection(dropsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lockedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (t *mongoTx) MarkDropUndone(ctx context.Context, id string, undoneBy string, reason string, at time.Time) error {
	set := bson.M{
		"isUndone": true,
		"undoneAt": at.UTC(),
		"undoneBy": undoneBy,
	}
	if reason != "" {
		set["undoReason"] = reason
	}
	res, err := t.s.collection(dropsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "isUndone": false},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := t.s.exists(ctx, dropsCollection, id)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return store.ErrAlreadyUndone
}
