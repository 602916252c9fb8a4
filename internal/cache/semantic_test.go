package cache

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagePayload struct {
	Answer string `json:"answer"`
	Chunks int    `json:"chunks"`
}

func TestSemanticCache_HitAboveThreshold(t *testing.T) {
	c := NewSemanticCache(NewMemoryStore(100), time.Hour, 0.90, 16, nil)
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	stored := []float32{1, 0, 0}
	require.NoError(t, c.Store(ctx, stored, scope, pagePayload{Answer: "cached", Chunks: 2}))

	// Slightly rotated but well above the similarity threshold.
	query := []float32{0.99, 0.05, 0}
	var out pagePayload
	hit, err := c.Find(ctx, query, scope, &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "cached", out.Answer)
	assert.Equal(t, 2, out.Chunks)
}

func TestSemanticCache_MissBelowThreshold(t *testing.T) {
	c := NewSemanticCache(NewMemoryStore(100), time.Hour, 0.90, 16, nil)
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	require.NoError(t, c.Store(ctx, []float32{1, 0, 0}, scope, pagePayload{Answer: "cached"}))

	// Orthogonal vector, similarity 0.
	var out pagePayload
	hit, err := c.Find(ctx, []float32{0, 1, 0}, scope, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSemanticCache_ThresholdIsInclusive(t *testing.T) {
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	stored := []float32{1, 0.3, 0}
	query := []float32{1, 0.1, 0.05}
	sim := CosineSimilarity(stored, query)
	require.Greater(t, sim, 0.0)
	require.Less(t, sim, 1.0)

	// Threshold exactly at the similarity: hit.
	atThreshold := NewSemanticCache(NewMemoryStore(100), time.Hour, sim, 16, nil)
	require.NoError(t, atThreshold.Store(ctx, stored, scope, pagePayload{Answer: "x"}))
	var out pagePayload
	hit, err := atThreshold.Find(ctx, query, scope, &out)
	require.NoError(t, err)
	assert.True(t, hit)

	// Threshold one ulp above: miss.
	above := NewSemanticCache(NewMemoryStore(100), time.Hour, math.Nextafter(sim, 1), 16, nil)
	require.NoError(t, above.Store(ctx, stored, scope, pagePayload{Answer: "x"}))
	hit, err = above.Find(ctx, query, scope, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSemanticCache_ScopeIsolation(t *testing.T) {
	c := NewSemanticCache(NewMemoryStore(100), time.Hour, 0.90, 16, nil)
	ctx := context.Background()

	embedding := []float32{1, 0, 0}
	require.NoError(t, c.Store(ctx, embedding, Scope{Token: "user-a"}, pagePayload{Answer: "a"}))

	// Identical embedding in a different scope must miss.
	var out pagePayload
	hit, err := c.Find(ctx, embedding, Scope{Token: "user-b"}, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	// Same token but a different document scope must also miss.
	hit, err = c.Find(ctx, embedding, Scope{Token: "user-a", DocumentID: "doc1"}, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSemanticCache_BestCandidateWins(t *testing.T) {
	c := NewSemanticCache(NewMemoryStore(100), time.Hour, 0.50, 16, nil)
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	require.NoError(t, c.Store(ctx, []float32{1, 1, 0}, scope, pagePayload{Answer: "far"}))
	require.NoError(t, c.Store(ctx, []float32{1, 0, 0}, scope, pagePayload{Answer: "near"}))

	var out pagePayload
	hit, err := c.Find(ctx, []float32{1, 0.01, 0}, scope, &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "near", out.Answer)
}

func TestSemanticCache_EvictsOldestBeyondScopeCap(t *testing.T) {
	store := NewMemoryStore(100)
	c := NewSemanticCache(store, time.Hour, 0.90, 2, nil)
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	require.NoError(t, c.Store(ctx, []float32{1, 0, 0}, scope, pagePayload{Answer: "first"}))
	require.NoError(t, c.Store(ctx, []float32{0, 1, 0}, scope, pagePayload{Answer: "second"}))
	require.NoError(t, c.Store(ctx, []float32{0, 0, 1}, scope, pagePayload{Answer: "third"}))

	keys, err := store.ScanPrefix(ctx, "semantic:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// The oldest entry is gone.
	var out pagePayload
	hit, err := c.Find(ctx, []float32{1, 0, 0}, scope, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSemanticCache_PurgeScope(t *testing.T) {
	store := NewMemoryStore(100)
	c := NewSemanticCache(store, time.Hour, 0.90, 16, nil)
	ctx := context.Background()
	scope := Scope{Token: "user-a"}

	require.NoError(t, c.Store(ctx, []float32{1, 0, 0}, scope, pagePayload{Answer: "a"}))
	require.NoError(t, c.PurgeScope(ctx, scope))

	var out pagePayload
	hit, err := c.Find(ctx, []float32{1, 0, 0}, scope, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	keys, err := store.ScanPrefix(ctx, "semantic:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score zero rather than NaN.
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
