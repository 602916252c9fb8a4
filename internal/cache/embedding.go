package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/pkg/utils"
)

const (
	embeddingPrefix   = "embedding:"
	maxEmbedTextLen   = 8192
	emptyTextSentinel = " "
)

// EmbeddingCache is the exact-match tier: (model, normalized text) -> vector.
// A hit here is valid even while the embedding provider's breaker is open,
// so callers consult it before touching the provider at all.
type EmbeddingCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewEmbeddingCache(store Store, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{store: store, ttl: ttl, logger: logger}
}

// NormalizeText trims whitespace and caps length so whitespace-only
// variations of the same input share one cache entry. Empty input is
// replaced with a single-space sentinel, never sent as "".
func NormalizeText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyTextSentinel
	}
	if len(text) > maxEmbedTextLen {
		text = text[:maxEmbedTextLen]
	}
	return text
}

func embeddingKey(model, text string) string {
	return embeddingPrefix + utils.HashString(model+"|"+NormalizeText(text))
}

func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	data, ok, err := c.store.Get(ctx, embeddingKey(model, text))
	if err != nil {
		c.logger.Warn("Embedding cache get failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		c.logger.Warn("Embedding cache entry corrupt", zap.Error(err))
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	return vector, true
}

func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("Failed to marshal embedding", zap.Error(err))
		return
	}
	if err := c.store.SetEx(ctx, embeddingKey(model, text), data, c.ttl); err != nil {
		c.logger.Warn("Embedding cache set failed", zap.Error(err))
	}
}

// PurgePrefix drops every entry in a namespace. Used by the explicit
// document-delete path, not by normal operation.
func PurgePrefix(ctx context.Context, store Store, prefix string) error {
	keys, err := store.ScanPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	return store.Delete(ctx, keys...)
}
