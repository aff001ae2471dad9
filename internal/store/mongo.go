package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storyrank/storyrank/internal/errors"
)

// Mongo store defaults, matching the Atlas deployment conventions.
const (
	DefaultDatabase    = "raguserstories"
	DefaultCollection  = "ragstories"
	DefaultVectorIndex = "vector_hybridretrieval_index"

	// mongoConnectTimeout bounds initial connection establishment.
	mongoConnectTimeout = 10 * time.Second

	// vectorCandidateMultiplier oversamples ANN candidates relative to k.
	vectorCandidateMultiplier = 10
)

// MongoConfig configures the Atlas-backed document store.
type MongoConfig struct {
	// URI is the connection string. Required.
	URI string

	// Database name (default: raguserstories).
	Database string

	// Collection name (default: ragstories).
	Collection string

	// VectorIndex is the Atlas Search vector index name
	// (default: vector_hybridretrieval_index).
	VectorIndex string
}

// MongoStore implements DocumentStore against MongoDB Atlas: $vectorSearch
// for the semantic leg and $text with textScore for the lexical leg.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	cfg    MongoConfig
}

var _ DocumentStore = (*MongoStore)(nil)

// storyDoc is a Story plus the search score metadata projected by the store.
type storyDoc struct {
	Story `bson:",inline"`
	Score float64 `bson:"score"`
}

// NewMongoStore connects to the store and verifies the connection.
// Connection establishment is retried with backoff; a store that cannot be
// reached at startup is a fatal condition.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "mongo URI is required", nil)
	}
	// Strip surrounding quotes that sometimes survive .env parsing.
	cfg.URI = strings.Trim(cfg.URI, `"'`)
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.VectorIndex == "" {
		cfg.VectorIndex = DefaultVectorIndex
	}

	client, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() (*mongo.Client, error) {
		connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
		defer cancel()

		c, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		if err := c.Ping(connectCtx, nil); err != nil {
			_ = c.Disconnect(connectCtx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, errors.StoreError("cannot connect to document store", err)
	}

	slog.Info("document_store_connected",
		slog.String("database", cfg.Database),
		slog.String("collection", cfg.Collection),
		slog.String("vector_index", cfg.VectorIndex))

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:    cfg,
	}, nil
}

// VectorSearch runs an Atlas $vectorSearch aggregation. A missing or
// misconfigured vector index yields an empty result, not an error.
func (s *MongoStore) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]SemanticHit, error) {
	if k <= 0 {
		return []SemanticHit{}, nil
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: s.cfg.VectorIndex},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: queryEmbedding},
			{Key: "numCandidates", Value: k * vectorCandidateMultiplier},
			{Key: "limit", Value: k},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "storyId", Value: 1},
			{Key: "title", Value: 1},
			{Key: "content", Value: 1},
			{Key: "acceptanceCriteria", Value: 1},
			{Key: "priority", Value: 1},
			{Key: "risk", Value: 1},
			{Key: "status", Value: 1},
			{Key: "statusCategory", Value: 1},
			{Key: "projectName", Value: 1},
			{Key: "parentSummary", Value: 1},
			{Key: "createdDate", Value: 1},
			{Key: "lastModifiedDate", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		if isMissingIndexError(err) {
			slog.Warn("vector_index_unavailable",
				slog.String("index", s.cfg.VectorIndex),
				slog.String("error", err.Error()))
			return []SemanticHit{}, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var docs []storyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}

	hits := make([]SemanticHit, 0, len(docs))
	for _, d := range docs {
		id := d.resolveID()
		if id == "" {
			continue
		}
		hits = append(hits, SemanticHit{ID: id, Score: d.Score, Story: d.Story})
	}
	return hits, nil
}

// LexicalSearch runs a $text query sorted by textScore descending.
func (s *MongoStore) LexicalSearch(ctx context.Context, queryText string, k int) ([]LexicalHit, error) {
	if k <= 0 || strings.TrimSpace(queryText) == "" {
		return []LexicalHit{}, nil
	}

	filter := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: queryText}}}}
	scoreMeta := bson.D{{Key: "$meta", Value: "textScore"}}

	opts := options.Find().
		SetProjection(bson.D{
			{Key: "storyId", Value: 1},
			{Key: "title", Value: 1},
			{Key: "content", Value: 1},
			{Key: "acceptanceCriteria", Value: 1},
			{Key: "priority", Value: 1},
			{Key: "risk", Value: 1},
			{Key: "status", Value: 1},
			{Key: "statusCategory", Value: 1},
			{Key: "projectName", Value: 1},
			{Key: "parentSummary", Value: 1},
			{Key: "createdDate", Value: 1},
			{Key: "lastModifiedDate", Value: 1},
			{Key: "score", Value: scoreMeta},
		}).
		SetSort(bson.D{{Key: "score", Value: scoreMeta}}).
		SetLimit(int64(k))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.StoreError("lexical search failed", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var docs []storyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.StoreError("lexical search decode failed", err)
	}

	hits := make([]LexicalHit, 0, len(docs))
	for _, d := range docs {
		id := d.resolveID()
		if id == "" {
			continue
		}
		hits = append(hits, LexicalHit{ID: id, Score: d.Score, Story: d.Story})
	}
	return hits, nil
}

// Close disconnects from the store.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// resolveID returns the stable external identifier for a document.
// Documents without one are discarded upstream.
func (d *storyDoc) resolveID() string {
	return d.Story.ID
}

// isMissingIndexError reports whether an aggregation error indicates the
// vector index does not exist or $vectorSearch is unsupported.
func isMissingIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "index not found") ||
		strings.Contains(msg, "Unrecognized pipeline stage") ||
		strings.Contains(msg, "$vectorSearch") ||
		strings.Contains(msg, "needs to be indexed")
}

// EnsureTextIndex creates the compound text index the lexical leg relies on.
// Safe to call repeatedly; index creation is idempotent.
func (s *MongoStore) EnsureTextIndex(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys: bson.D{
			{Key: "title", Value: "text"},
			{Key: "content", Value: "text"},
			{Key: "acceptanceCriteria", Value: "text"},
		},
		Options: options.Index().SetName("story_text_index"),
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create text index: %w", err)
	}
	return nil
}
