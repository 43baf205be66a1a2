package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ port.DocumentStore = MongoRepository{}

// ConnectMongo connects to uri and returns the named database once the
// server answers a ping.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	const op = "ConnectMongo"
	log := slog.With("op", op)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: mongo is unavailable: %w", op, err)
	}

	log.Info("mongo is available", "database", database)
	return client.Database(database), nil
}

func DisconnectMongo(ctx context.Context, db *mongo.Database) {
	const op = "DisconnectMongo"
	log := slog.With("op", op)

	log.Info("closing mongo client...")
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Error("failed to disconnect", "err", err)
		return
	}
	log.Info("mongo client is closed")
}

// A MongoRepository writes documents into mongo collections. Mongo assigns
// the document id; the product id is kept in the "id" field.
type MongoRepository struct {
	db *mongo.Database
}

func NewMongoRepository(db *mongo.Database) MongoRepository {
	return MongoRepository{db}
}

// EnsureIndexes creates the unique product id index of collection.
func (r MongoRepository) EnsureIndexes(ctx context.Context, collection string) error {
	const op = "MongoRepository.EnsureIndexes"

	_, err := r.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r MongoRepository) AddDocument(
	ctx context.Context, collection string, p domain.Product,
) (string, error) {
	const op = "MongoRepository.AddDocument"

	res, err := r.db.Collection(collection).InsertOne(ctx, toDocument(p))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch id := res.InsertedID.(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	default:
		return fmt.Sprint(id), nil
	}
}

func (r MongoRepository) FindDocument(
	ctx context.Context, collection string, productID string,
) (domain.Product, error) {
	const op = "MongoRepository.FindDocument"

	filter := bson.D{{Key: "id", Value: productID}}

	var d document
	err := r.db.Collection(collection).FindOne(ctx, filter).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.toDomain(), nil
}
