package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	c := NewEmbeddingCache(NewMemoryStore(100), time.Hour, nil)
	ctx := context.Background()

	vector := []float32{0.1, 0.2, 0.3}
	c.Set(ctx, "text-embedding-3-small", "hello world", vector)

	got, ok := c.Get(ctx, "text-embedding-3-small", "hello world")
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestEmbeddingCache_MissOnUnknownText(t *testing.T) {
	c := NewEmbeddingCache(NewMemoryStore(100), time.Hour, nil)
	_, ok := c.Get(context.Background(), "text-embedding-3-small", "never stored")
	assert.False(t, ok)
}

func TestEmbeddingCache_KeyedByModel(t *testing.T) {
	c := NewEmbeddingCache(NewMemoryStore(100), time.Hour, nil)
	ctx := context.Background()

	c.Set(ctx, "model-a", "same text", []float32{1})

	_, ok := c.Get(ctx, "model-b", "same text")
	assert.False(t, ok)
}

func TestEmbeddingCache_WhitespaceVariantsShareEntry(t *testing.T) {
	c := NewEmbeddingCache(NewMemoryStore(100), time.Hour, nil)
	ctx := context.Background()

	vector := []float32{0.5}
	c.Set(ctx, "m", "hello", vector)

	got, ok := c.Get(ctx, "m", "  hello\n")
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello", NormalizeText("  hello  "))
	assert.Equal(t, " ", NormalizeText(""))
	assert.Equal(t, " ", NormalizeText("   \t\n"))

	long := strings.Repeat("a", maxEmbedTextLen+100)
	assert.Len(t, NormalizeText(long), maxEmbedTextLen)
}

func TestPurgePrefix(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "embedding:one", []byte("1"), time.Hour))
	require.NoError(t, store.SetEx(ctx, "embedding:two", []byte("2"), time.Hour))
	require.NoError(t, store.SetEx(ctx, "semantic:keep", []byte("3"), time.Hour))

	require.NoError(t, PurgePrefix(ctx, store, "embedding:"))

	_, ok, err := store.Get(ctx, "embedding:one")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, "semantic:keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "k", []byte("v"), 10*time.Millisecond))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
