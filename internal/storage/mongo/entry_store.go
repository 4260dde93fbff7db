// Package mongo provides the MongoDB-backed entry store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/penzu-sync/internal/journal"
)

// Config controls the MongoDB connection and target collection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type updater interface {
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// EntryStore upserts entries with $set so fields missing from a newer fetch survive.
type EntryStore struct {
	client     *mongo.Client
	collection updater
	timeout    time.Duration
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*EntryStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "penzu"
	}
	if cfg.Collection == "" {
		cfg.Collection = "entries"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		disconnectCtx, dcancel := context.WithTimeout(context.Background(), timeout)
		defer dcancel()
		_ = client.Disconnect(disconnectCtx) //nolint:errcheck // ping failure is the error worth reporting
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &EntryStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    timeout,
	}, nil
}

// NewWithCollection constructs a store around an existing collection (primarily for testing).
func NewWithCollection(collection updater) (*EntryStore, error) {
	if collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	return &EntryStore{collection: collection, timeout: 10 * time.Second}, nil
}

// Upsert applies {$set: doc} to the document matching {id: id}, inserting when absent.
func (s *EntryStore) Upsert(ctx context.Context, id any, doc journal.Entry) error {
	if s == nil || s.collection == nil {
		return fmt.Errorf("mongo entry store is not configured")
	}
	if id == nil {
		return fmt.Errorf("upsert: %w", journal.ErrMissingID)
	}
	filter, update := upsertDocuments(id, doc)
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert entry %s: %w", journal.FormatID(id), err)
	}
	return nil
}

func upsertDocuments(id any, doc journal.Entry) (bson.D, bson.D) {
	set := make(bson.M, len(doc))
	for k, v := range doc {
		set[k] = v
	}
	return bson.D{{Key: "id", Value: id}}, bson.D{{Key: "$set", Value: set}}
}

// Close disconnects the client.
func (s *EntryStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Disconnect(closeCtx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
