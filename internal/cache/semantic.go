package cache

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/pkg/utils"
)

const semanticPrefix = "semantic:"

// Scope is the isolation boundary for semantic matches. Entries stored
// under one scope are never returned for another, regardless of how
// similar the query embeddings are.
type Scope struct {
	Token      string
	DocumentID string
}

func (s Scope) Key() string {
	return utils.HashString(s.Token + "|" + s.DocumentID)
}

type semanticEntry struct {
	Embedding []float32       `json:"embedding"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SemanticCache is the similarity-match tier: a lookup is a hit when a
// same-scope entry's stored query embedding has cosine similarity at or
// above the threshold. Candidate scans are bounded to the most recent N
// entries per scope so lookup cost does not grow with total cache size.
type SemanticCache struct {
	store       Store
	ttl         time.Duration
	threshold   float64
	maxPerScope int
	logger      *zap.Logger

	scopes sync.Map // scope key -> *scopeIndex
}

type scopeIndex struct {
	mu   sync.Mutex
	keys []string
}

func NewSemanticCache(store Store, ttl time.Duration, threshold float64, maxPerScope int, logger *zap.Logger) *SemanticCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if threshold <= 0 {
		threshold = 0.90
	}
	if maxPerScope <= 0 {
		maxPerScope = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:       store,
		ttl:         ttl,
		threshold:   threshold,
		maxPerScope: maxPerScope,
		logger:      logger,
	}
}

// Find scans same-scope candidates and unmarshals the best match into
// out when its similarity is >= threshold. Strictly below threshold is
// a miss; no result is synthesized from partial matches.
func (c *SemanticCache) Find(ctx context.Context, queryEmbedding []float32, scope Scope, out interface{}) (bool, error) {
	keys := c.candidateKeys(ctx, scope)
	if len(keys) == 0 {
		metrics.CacheMisses.WithLabelValues("semantic").Inc()
		return false, nil
	}

	bestSim := math.Inf(-1)
	var bestPayload json.RawMessage

	for _, key := range keys {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Semantic cache get failed", zap.Error(err))
			continue
		}
		if !ok {
			// Expired underneath the index.
			continue
		}

		var entry semanticEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			c.logger.Warn("Semantic cache entry corrupt", zap.String("key", key))
			continue
		}

		sim := CosineSimilarity(queryEmbedding, entry.Embedding)
		if sim > bestSim {
			bestSim = sim
			bestPayload = entry.Payload
		}
	}

	if bestPayload == nil || bestSim < c.threshold {
		metrics.CacheMisses.WithLabelValues("semantic").Inc()
		return false, nil
	}

	if err := json.Unmarshal(bestPayload, out); err != nil {
		return false, err
	}

	metrics.CacheHits.WithLabelValues("semantic").Inc()
	c.logger.Debug("Semantic cache hit",
		zap.Float64("similarity", bestSim),
		zap.Int("candidates", len(keys)),
	)
	return true, nil
}

func (c *SemanticCache) Store(ctx context.Context, queryEmbedding []float32, scope Scope, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := semanticEntry{
		Embedding: queryEmbedding,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := semanticPrefix + scope.Key() + ":" + uuid.New().String()
	if err := c.store.SetEx(ctx, key, data, c.ttl); err != nil {
		return err
	}

	c.trackKey(ctx, scope, key)
	return nil
}

// PurgeScope removes every entry for a scope, both from the backing
// store and the in-process index.
func (c *SemanticCache) PurgeScope(ctx context.Context, scope Scope) error {
	c.scopes.Delete(scope.Key())
	return PurgePrefix(ctx, c.store, semanticPrefix+scope.Key()+":")
}

// candidateKeys returns the most recent entries for the scope. After a
// process restart the in-memory index is empty, so fall back to a
// prefix scan of the backing store, still capped at maxPerScope.
func (c *SemanticCache) candidateKeys(ctx context.Context, scope Scope) []string {
	if v, ok := c.scopes.Load(scope.Key()); ok {
		idx := v.(*scopeIndex)
		idx.mu.Lock()
		keys := make([]string, len(idx.keys))
		copy(keys, idx.keys)
		idx.mu.Unlock()
		return keys
	}

	keys, err := c.store.ScanPrefix(ctx, semanticPrefix+scope.Key()+":")
	if err != nil {
		c.logger.Warn("Semantic cache scan failed", zap.Error(err))
		return nil
	}
	if len(keys) > c.maxPerScope {
		keys = keys[len(keys)-c.maxPerScope:]
	}
	return keys
}

func (c *SemanticCache) trackKey(ctx context.Context, scope Scope, key string) {
	v, _ := c.scopes.LoadOrStore(scope.Key(), &scopeIndex{})
	idx := v.(*scopeIndex)

	idx.mu.Lock()
	idx.keys = append(idx.keys, key)
	var evicted []string
	if len(idx.keys) > c.maxPerScope {
		n := len(idx.keys) - c.maxPerScope
		evicted = append(evicted, idx.keys[:n]...)
		idx.keys = idx.keys[n:]
	}
	idx.mu.Unlock()

	if len(evicted) > 0 {
		if err := c.store.Delete(ctx, evicted...); err != nil {
			c.logger.Warn("Semantic cache eviction failed", zap.Error(err))
		}
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors
// in float64 for stable threshold comparisons. Mismatched or zero-length
// vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
