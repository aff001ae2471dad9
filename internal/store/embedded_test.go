package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyrank/storyrank/internal/embed"
)

func testStories() []Story {
	return []Story{
		{
			ID:      "STORY-1",
			Title:   "Patient login with two-factor authentication",
			Content: "As a patient, I want to sign in with a one-time code so that my health records stay protected.",
		},
		{
			ID:      "STORY-2",
			Title:   "Clinician dashboard for lab results",
			Content: "As a clinician, I want to review pending lab results on a dashboard so that I can triage patients quickly.",
		},
		{
			ID:      "STORY-3",
			Title:   "Appointment reminder notifications",
			Content: "As a patient, I want appointment reminders by SMS so that I do not miss my visits.",
		},
	}
}

func newTestStore(t *testing.T) (*EmbeddedStore, *embed.StaticEmbedder) {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	store, err := NewEmbeddedStore(EmbeddedConfig{Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, embedder
}

func indexTestStories(t *testing.T, store *EmbeddedStore, embedder *embed.StaticEmbedder) {
	t.Helper()

	stories := testStories()
	texts := make([]string, len(stories))
	for i, s := range stories {
		texts[i] = storyText(s)
	}

	vectors, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.NoError(t, store.Index(context.Background(), stories, vectors))
}

func TestEmbeddedStore_IndexAndCount(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	assert.Equal(t, 3, store.Count())
}

func TestEmbeddedStore_VectorSearch(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	query, err := embedder.Embed(context.Background(), "patient sign in one-time code health records")
	require.NoError(t, err)

	hits, err := store.VectorSearch(context.Background(), query, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// The login story shares the most vocabulary with the query.
	assert.Equal(t, "STORY-1", hits[0].ID)
	assert.Equal(t, "Patient login with two-factor authentication", hits[0].Story.Title)

	for _, hit := range hits {
		assert.GreaterOrEqual(t, hit.Score, 0.0)
		assert.LessOrEqual(t, hit.Score, 1.0)
	}
}

func TestEmbeddedStore_VectorSearchDimensionMismatch(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	_, err := store.VectorSearch(context.Background(), make([]float32, 8), 3)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestEmbeddedStore_VectorSearchEmptyIndex(t *testing.T) {
	store, _ := newTestStore(t)

	embedder := embed.NewStaticEmbedder()
	query, err := embedder.Embed(context.Background(), "anything")
	require.NoError(t, err)

	hits, err := store.VectorSearch(context.Background(), query, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmbeddedStore_LexicalSearch(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	hits, err := store.LexicalSearch(context.Background(), "lab results dashboard", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, "STORY-2", hits[0].ID)
	assert.Positive(t, hits[0].Score)
	assert.Equal(t, "Clinician dashboard for lab results", hits[0].Story.Title)
}

func TestEmbeddedStore_LexicalSearchBlankQuery(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	hits, err := store.LexicalSearch(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmbeddedStore_LexicalSearchRespectsLimit(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	hits, err := store.LexicalSearch(context.Background(), "patient", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEmbeddedStore_IndexSkipsEmptyIDs(t *testing.T) {
	store, embedder := newTestStore(t)

	stories := []Story{
		{ID: "", Title: "orphan"},
		{ID: "STORY-9", Title: "kept story", Content: "valid content"},
	}
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"orphan", "kept story valid content"})
	require.NoError(t, err)

	require.NoError(t, store.Index(context.Background(), stories, vectors))
	assert.Equal(t, 1, store.Count())
}

func TestEmbeddedStore_IndexLengthMismatch(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Index(context.Background(), testStories(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestEmbeddedStore_ReindexReplacesStory(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)

	updated := Story{ID: "STORY-1", Title: "Updated login story", Content: "Passwordless patient login"}
	vec, err := embedder.Embed(context.Background(), storyText(updated))
	require.NoError(t, err)
	require.NoError(t, store.Index(context.Background(), []Story{updated}, [][]float32{vec}))

	assert.Equal(t, 3, store.Count())

	hits, err := store.LexicalSearch(context.Background(), "passwordless", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "STORY-1", hits[0].ID)
	assert.Equal(t, "Updated login story", hits[0].Story.Title)
}

func TestEmbeddedStore_SaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	embedder := embed.NewStaticEmbedder()

	store, err := NewEmbeddedStore(EmbeddedConfig{Path: dir, Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	indexTestStories(t, store, embedder)
	require.NoError(t, store.Save())
	require.NoError(t, store.Close())

	reopened, err := NewEmbeddedStore(EmbeddedConfig{Path: dir, Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())

	query, err := embedder.Embed(context.Background(), "patient sign in one-time code health records")
	require.NoError(t, err)
	hits, err := reopened.VectorSearch(context.Background(), query, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "STORY-1", hits[0].ID)

	lexHits, err := reopened.LexicalSearch(context.Background(), "dashboard", 5)
	require.NoError(t, err)
	require.NotEmpty(t, lexHits)
	assert.Equal(t, "STORY-2", lexHits[0].ID)
}

func TestEmbeddedStore_SaveInMemoryIsNoop(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)
	assert.NoError(t, store.Save())
}

func TestEmbeddedStore_ClosedStore(t *testing.T) {
	store, embedder := newTestStore(t)
	indexTestStories(t, store, embedder)
	require.NoError(t, store.Close())

	_, err := store.LexicalSearch(context.Background(), "patient", 5)
	assert.Error(t, err)

	_, err = store.VectorSearch(context.Background(), make([]float32, embedder.Dimensions()), 5)
	assert.Error(t, err)
}
