// Package mongostore persists records in a MongoDB collection keyed by _id.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// Strategy selects how Upsert talks to the server.
type Strategy string

// Supported upsert strategies.
const (
	// StrategyAtomic issues a single UpdateOne with upsert enabled.
	StrategyAtomic Strategy = "atomic"
	// StrategyTwoStep issues FindOneAndUpdate and falls back to InsertOne
	// when nothing matched.
	StrategyTwoStep Strategy = "two_step"
)

const defaultTimeout = 10 * time.Second

// Config describes the connection and target collection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Strategy   Strategy
	// Timeout bounds connect and ping.
	Timeout time.Duration
}

// collection is the subset of *mongo.Collection the store needs.
type collection interface {
	UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// RecordStore implements crawler.RecordStore over a mongo collection. The
// driver client pools connections and is safe for concurrent use.
type RecordStore struct {
	client   *mongo.Client
	coll     collection
	strategy Strategy
}

// NewRecordStore connects to the server and verifies it with a ping.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("store.uri is required")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, errors.New("store.database and store.collection are required")
	}
	strategy, err := parseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongo: %w", crawler.ErrStore, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: ping mongo: %w", crawler.ErrStore, err)
	}

	return &RecordStore{
		client:   client,
		coll:     client.Database(cfg.Database).Collection(cfg.Collection),
		strategy: strategy,
	}, nil
}

// NewRecordStoreWithCollection wraps an existing collection (primarily for testing).
func NewRecordStoreWithCollection(coll collection, strategy Strategy) (*RecordStore, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	s, err := parseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	return &RecordStore{coll: coll, strategy: s}, nil
}

func parseStrategy(s Strategy) (Strategy, error) {
	switch s {
	case "":
		return StrategyAtomic, nil
	case StrategyAtomic, StrategyTwoStep:
		return s, nil
	default:
		return "", fmt.Errorf("unknown upsert strategy %q", s)
	}
}

// Upsert writes the record so that exactly one document carries its id.
func (s *RecordStore) Upsert(ctx context.Context, record crawler.Record) error {
	var err error
	switch s.strategy {
	case StrategyTwoStep:
		err = s.upsertTwoStep(ctx, record)
	default:
		err = s.upsertAtomic(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("%w: upsert record %d: %w", crawler.ErrStore, record.ID, err)
	}
	return nil
}

func (s *RecordStore) upsertAtomic(ctx context.Context, record crawler.Record) error {
	_, err := s.coll.UpdateOne(ctx, idFilter(record.ID), setFields(record), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update one: %w", err)
	}
	return nil
}

func (s *RecordStore) upsertTwoStep(ctx context.Context, record crawler.Record) error {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx, idFilter(record.ID), setFields(record), opts).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("find one and update: %w", err)
	}

	_, err = s.coll.InsertOne(ctx, document(record))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert one: %w", err)
	}
	// A concurrent writer inserted the id between our find and insert.
	if _, err := s.coll.UpdateOne(ctx, idFilter(record.ID), setFields(record)); err != nil {
		return fmt.Errorf("update after duplicate key: %w", err)
	}
	return nil
}

// Close disconnects the client. Stores built around a bare collection have
// nothing to release.
func (s *RecordStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func idFilter(id int64) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func setFields(record crawler.Record) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "date", Value: record.Timestamp.UTC()},
		{Key: "tags", Value: record.LabelsOrEmpty()},
	}}}
}

func document(record crawler.Record) bson.D {
	return bson.D{
		{Key: "_id", Value: record.ID},
		{Key: "date", Value: record.Timestamp.UTC()},
		{Key: "tags", Value: record.LabelsOrEmpty()},
	}
}
