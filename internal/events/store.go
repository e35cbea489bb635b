package events

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists and reads back event records. Implementations must treat
// records as append-only.
type Store interface {
	Insert(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
	EnsureIndexes(ctx context.Context) error
}

// MongoStore keeps events in a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a store over an existing collection handle.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// EnsureIndexes bootstraps the indexes filtered reads depend on. Safe to
// call on every startup; Mongo treats existing indexes as a no-op.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "level", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "timestamp", Value: -1}}},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

// Insert appends one event record.
func (s *MongoStore) Insert(ctx context.Context, event Event) error {
	if _, err := s.collection.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, most recent first, capped at
// the filter's effective limit.
func (s *MongoStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Level != "" {
		query["level"] = filter.Level
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}

	timeRange := bson.M{}
	if !filter.From.IsZero() {
		timeRange["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		timeRange["$lte"] = filter.To
	}
	if len(timeRange) > 0 {
		query["timestamp"] = timeRange
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(filter.effectiveLimit()))

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var results []Event
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	return results, nil
}

// Connect dials MongoDB with the given pool bounds and verifies the
// connection with a ping.
func Connect(ctx context.Context, uri string, maxPool, minPool uint64) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPool).
		SetMinPoolSize(minPool).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}
