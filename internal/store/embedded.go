package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"
)

// On-disk layout under EmbeddedConfig.Path.
const (
	lexicalIndexName = "lexical.bleve"
	vectorIndexName  = "vectors.hnsw"
	vectorMetaName   = "vectors.hnsw.meta"
)

// EmbeddedConfig configures the local document store.
type EmbeddedConfig struct {
	// Path is the index directory. Empty means in-memory.
	Path string

	// Dimensions is the embedding dimension. Required.
	Dimensions int

	// M is the HNSW connectivity parameter (default: 16).
	M int

	// EfSearch is the HNSW search expansion factor (default: 20).
	EfSearch int
}

// EmbeddedStore implements DocumentStore over a local bleve index (lexical
// leg) and an in-process HNSW graph (vector leg). It exists for local
// corpora and tests; the production path is MongoStore.
type EmbeddedStore struct {
	mu    sync.RWMutex
	index bleve.Index
	graph *hnsw.Graph[uint64]
	cfg   EmbeddedConfig

	// ID mapping (string <-> uint64 graph keys)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	stories map[string]Story
	closed  bool
}

var _ DocumentStore = (*EmbeddedStore)(nil)

// bleveStory is the document shape handed to bleve.
type bleveStory struct {
	Text string `json:"text"`
}

// NewEmbeddedStore creates a local store. If cfg.Path is empty everything
// lives in memory; otherwise a previously saved index at that directory is
// reopened.
func NewEmbeddedStore(cfg EmbeddedConfig) (*EmbeddedStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedded store requires a positive dimension")
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	mapping := bleve.NewIndexMapping()

	var index bleve.Index
	var err error
	if cfg.Path == "" {
		index, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		lexicalPath := filepath.Join(cfg.Path, lexicalIndexName)
		index, err = bleve.Open(lexicalPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			index, err = bleve.New(lexicalPath, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open lexical index: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	s := &EmbeddedStore{
		index:   index,
		graph:   graph,
		cfg:     cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		stories: make(map[string]Story),
	}

	if cfg.Path != "" {
		vectorPath := filepath.Join(cfg.Path, vectorIndexName)
		if _, statErr := os.Stat(vectorPath); statErr == nil {
			if err := s.loadVectors(vectorPath); err != nil {
				_ = index.Close()
				return nil, fmt.Errorf("failed to load vector index: %w", err)
			}
		}
	}

	return s, nil
}

// Index adds stories with their embeddings to both legs.
// Stories without an ID are discarded. Re-indexing an existing ID replaces
// its lexical document and lazily orphans its old graph node.
func (s *EmbeddedStore) Index(ctx context.Context, stories []Story, vectors [][]float32) error {
	if len(stories) != len(vectors) {
		return fmt.Errorf("stories and vectors length mismatch: %d vs %d", len(stories), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(v)}
		}
	}

	batch := s.index.NewBatch()
	for i, story := range stories {
		if story.ID == "" {
			continue
		}

		doc := bleveStory{Text: storyText(story)}
		if err := batch.Index(story.ID, doc); err != nil {
			return fmt.Errorf("failed to index story %s: %w", story.ID, err)
		}

		// Lazy deletion on re-index: orphan the old graph key rather than
		// removing the node (deleting the last node breaks coder/hnsw).
		if oldKey, exists := s.idMap[story.ID]; exists {
			delete(s.keyMap, oldKey)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[story.ID] = key
		s.keyMap[key] = story.ID
		s.stories[story.ID] = story
	}

	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute lexical batch: %w", err)
	}

	return nil
}

// VectorSearch finds the k nearest stories to the query embedding.
func (s *EmbeddedStore) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]SemanticHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(queryEmbedding) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(queryEmbedding)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []SemanticHit{}, nil
	}

	query := make([]float32, len(queryEmbedding))
	copy(query, queryEmbedding)
	normalizeVectorInPlace(query)

	nodes := s.graph.Search(query, k)

	hits := make([]SemanticHit, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // orphaned by lazy deletion
		}

		// Cosine distance ranges 0-2; convert to a 0-1 similarity.
		distance := s.graph.Distance(query, node.Value)
		score := float64(1.0 - distance/2.0)

		hits = append(hits, SemanticHit{
			ID:    id,
			Score: score,
			Story: s.stories[id],
		})
	}

	return hits, nil
}

// LexicalSearch returns stories matching the query, scored by bleve's
// TF-IDF-style relevance, best first.
func (s *EmbeddedStore) LexicalSearch(ctx context.Context, queryText string, k int) ([]LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if strings.TrimSpace(queryText) == "" || k <= 0 {
		return []LexicalHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("text")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = k

	result, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, LexicalHit{
			ID:    hit.ID,
			Score: hit.Score,
			Story: s.stories[hit.ID],
		})
	}

	return hits, nil
}

// Count returns the number of indexed stories.
func (s *EmbeddedStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stories)
}

// embeddedMetadata is the gob-encoded sidecar for the vector index.
type embeddedMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Stories    map[string]Story
	Dimensions int
}

// Save persists the vector index and its metadata. The lexical index is
// persisted by bleve itself. Uses atomic save (temp file + rename). No-op
// for in-memory stores.
func (s *EmbeddedStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.cfg.Path == "" {
		return nil
	}

	vectorPath := filepath.Join(s.cfg.Path, vectorIndexName)
	tmpPath := vectorPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create vector index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close vector index file: %w", err)
	}
	if err := os.Rename(tmpPath, vectorPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename vector index file: %w", err)
	}

	metaPath := filepath.Join(s.cfg.Path, vectorMetaName)
	tmpMeta := metaPath + ".tmp"
	metaFile, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	meta := embeddedMetadata{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Stories:    s.stories,
		Dimensions: s.cfg.Dimensions,
	}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		_ = metaFile.Close()
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpMeta, metaPath)
}

// loadVectors restores the graph and metadata saved by Save. Caller holds
// no lock; only invoked during construction.
func (s *EmbeddedStore) loadVectors(vectorPath string) error {
	metaPath := filepath.Join(s.cfg.Path, vectorMetaName)
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta embeddedMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.Dimensions != s.cfg.Dimensions {
		return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: meta.Dimensions}
	}

	file, err := os.Open(vectorPath)
	if err != nil {
		return fmt.Errorf("failed to open vector index file: %w", err)
	}
	defer file.Close()

	// bufio.Reader because coder/hnsw Import requires io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.stories = meta.Stories
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the lexical index.
func (s *EmbeddedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

// storyText builds the lexical document body from the story fields the
// original corpus indexes.
func storyText(s Story) string {
	parts := make([]string, 0, 3)
	if s.Title != "" {
		parts = append(parts, s.Title)
	}
	if s.Content != "" {
		parts = append(parts, s.Content)
	}
	if s.AcceptanceCriteria != "" {
		parts = append(parts, s.AcceptanceCriteria)
	}
	return strings.Join(parts, "\n")
}

// normalizeVectorInPlace normalizes a vector to unit length.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
