package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()

	v1, err := e.Embed(context.Background(), "patient appointment scheduling")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "patient appointment scheduling")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "As a nurse, I want to record vitals so that the chart stays current.")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-4)
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder()

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, StaticDimensions)
		for _, v := range vec {
			assert.Zero(t, v)
		}
	}
}

func TestStaticEmbedder_SimilarTextsCloserThanDissimilar(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "patient medication dosage alert")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "medication dosage alert for patients")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "quarterly billing invoice export")
	require.NoError(t, err)

	assert.Greater(t, cosine(a, b), cosine(a, c))
}

func TestStaticEmbedder_StopWordsIgnored(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	// Template boilerplate should not dominate the signal: the same core
	// tokens with and without the story scaffold stay highly similar.
	plain, err := e.Embed(ctx, "schedule followup appointment")
	require.NoError(t, err)
	templated, err := e.Embed(ctx, "As a user I want to schedule a followup appointment")
	require.NoError(t, err)

	assert.Greater(t, cosine(plain, templated), 0.5)
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	e := NewStaticEmbedder()

	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, err := e.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[0])

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticEmbedder_Metadata(t *testing.T) {
	e := NewStaticEmbedder()
	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static-fnv", e.ModelName())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"patient", "login", "2fa"}, tokenize("Patient-Login (2FA)!"))
	assert.Empty(t, tokenize("... !!!"))
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams("abcd", 3))
	assert.Empty(t, extractNgrams("ab", 3))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
