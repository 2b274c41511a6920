package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// captureDocument is the stored form of a capture
type captureDocument struct {
	ID         string            `bson:"_id"`
	Port       int               `bson:"port"`
	ReceivedAt time.Time         `bson:"received_at"`
	Method     string            `bson:"method"`
	Headers    map[string]string `bson:"headers"`
	Address    string            `bson:"address"`
	FullPath   string            `bson:"fullpath"`
	Path       string            `bson:"path"`
	Query      map[string]string `bson:"querystring"`
	Body       map[string]string `bson:"body"`
}

func toDocument(e *storage.Entry) *captureDocument {
	return &captureDocument{
		ID:         e.ID,
		Port:       e.Port,
		ReceivedAt: e.ReceivedAt.UTC(),
		Method:     e.Request.Method,
		Headers:    e.Request.Headers,
		Address:    e.Request.Address,
		FullPath:   e.Request.FullPath,
		Path:       e.Request.Path,
		Query:      e.Request.Query,
		Body:       e.Request.Body,
	}
}

func (d *captureDocument) toEntry() *storage.Entry {
	req := &domain.CapturedRequest{
		Method:     d.Method,
		Headers:    orEmpty(d.Headers),
		Address:    d.Address,
		FullPath:   d.FullPath,
		Path:       d.Path,
		Query:      orEmpty(d.Query),
		Body:       orEmpty(d.Body),
		ID:         d.ID,
		Port:       d.Port,
		ReceivedAt: d.ReceivedAt,
	}
	return &storage.Entry{
		ID:         d.ID,
		Port:       d.Port,
		ReceivedAt: d.ReceivedAt,
		Request:    req,
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Store implements MongoDB capture storage
type Store struct {
	client     *mongo.Client
	database   *mongo.Database
	collection *mongo.Collection
	cfg        *config.MongoDBConfig
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "captures"
	}

	database := client.Database(cfg.Database)
	s := &Store{
		client:     client,
		database:   database,
		collection: database.Collection(collection),
		cfg:        cfg,
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "port", Value: 1}, {Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "method", Value: 1}, {Key: "path", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create capture indexes: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, entry *storage.Entry) error {
	if err := storage.Validate(entry); err != nil {
		return err
	}

	_, err := s.collection.InsertOne(ctx, toDocument(entry))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to store capture: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	var doc captureDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}
	return doc.toEntry(), nil
}

func (s *Store) List(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	query := bson.M{}
	if filter.Port != 0 {
		query["port"] = filter.Port
	}
	if filter.Method != "" {
		query["method"] = bson.M{"$regex": "^" + regexp.QuoteMeta(filter.Method) + "$", "$options": "i"}
	}
	if filter.Path != "" {
		query["path"] = filter.Path
	}

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []captureDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode captures: %w", err)
	}

	entries := make([]*storage.Entry, 0, len(docs))
	for i := range docs {
		entries = append(entries, docs[i].toEntry())
	}
	return entries, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear captures: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
