package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docuquery/backend/internal/cache"
	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/internal/vector/milvus"
)

type Config struct {
	TopK             int
	ScoreThreshold   float64
	RerankMultiplier int
	MaxQueryVariants int
	MaxConcurrent    int
	ExpansionTerms   int
}

// Manager selects and executes a retrieval strategy, consulting the
// semantic cache before any vector store work and storing results
// after a miss.
type Manager struct {
	embedder Embedder
	searcher Searcher
	semCache *cache.SemanticCache
	cfg      Config
	logger   *zap.Logger
}

func NewManager(embedder Embedder, searcher Searcher, semCache *cache.SemanticCache, cfg Config, logger *zap.Logger) *Manager {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.RerankMultiplier <= 0 {
		cfg.RerankMultiplier = 3
	}
	if cfg.MaxQueryVariants <= 0 {
		cfg.MaxQueryVariants = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ExpansionTerms <= 0 {
		cfg.ExpansionTerms = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		embedder: embedder,
		searcher: searcher,
		semCache: semCache,
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *Manager) Retrieve(ctx context.Context, query string, strategy Strategy, scope cache.Scope, filters map[string]string) (*Result, error) {
	queryEmbedding, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var cached Result
	if hit, err := m.semCache.Find(ctx, queryEmbedding, scope, &cached); err == nil && hit {
		cached.CacheHit = true
		m.logger.Debug("Retrieval served from semantic cache",
			zap.String("strategy", string(cached.Strategy)),
			zap.Int("chunks", len(cached.Chunks)),
		)
		return &cached, nil
	}

	var chunks []milvus.SearchResult
	switch strategy {
	case StrategyDense:
		chunks, err = m.dense(ctx, queryEmbedding, m.cfg.TopK, filters)
	case StrategyHybrid:
		chunks, err = m.hybrid(ctx, queryEmbedding, filters)
	case StrategyRerank:
		chunks, err = m.rerank(ctx, query, queryEmbedding, filters)
	case StrategyMultiQuery:
		chunks, err = m.multiQuery(ctx, query, queryEmbedding, filters)
	case StrategyContextual:
		chunks, err = m.contextualExpansion(ctx, query, queryEmbedding, filters)
	default:
		m.logger.Warn("Unknown strategy, defaulting to hybrid", zap.String("strategy", string(strategy)))
		strategy = StrategyHybrid
		chunks, err = m.hybrid(ctx, queryEmbedding, filters)
	}
	if err != nil {
		return nil, err
	}

	metrics.VectorResultsCount.Observe(float64(len(chunks)))

	result := &Result{Chunks: chunks, Strategy: strategy}
	if err := m.semCache.Store(ctx, queryEmbedding, scope, result); err != nil {
		m.logger.Warn("Failed to store retrieval result in semantic cache", zap.Error(err))
	}

	m.logger.Info("Retrieval completed",
		zap.String("strategy", string(strategy)),
		zap.Int("chunks", len(chunks)),
	)
	return result, nil
}

func (m *Manager) dense(ctx context.Context, queryEmbedding []float32, topK int, filters map[string]string) ([]milvus.SearchResult, error) {
	results, err := m.searcher.Search(ctx, queryEmbedding, topK, filters)
	if err != nil {
		return nil, err
	}
	return filterByScore(results, m.cfg.ScoreThreshold), nil
}

// hybrid is dense-only for now; this is the extension point for fusing
// with a lexical/BM25 ranker.
func (m *Manager) hybrid(ctx context.Context, queryEmbedding []float32, filters map[string]string) ([]milvus.SearchResult, error) {
	return m.dense(ctx, queryEmbedding, m.cfg.TopK, filters)
}

// rerank over-fetches dense results, boosts them by lexical overlap
// with the query, and truncates back to topK.
func (m *Manager) rerank(ctx context.Context, query string, queryEmbedding []float32, filters map[string]string) ([]milvus.SearchResult, error) {
	initialK := m.cfg.TopK * m.cfg.RerankMultiplier
	initial, err := m.dense(ctx, queryEmbedding, initialK, filters)
	if err != nil {
		return nil, err
	}

	queryTerms := make(map[string]bool)
	for _, word := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if !stopwords[word] {
			queryTerms[word] = true
		}
	}

	type scored struct {
		chunk     milvus.SearchResult
		composite float64
		key       string
	}
	rescored := make([]scored, len(initial))
	for i, chunk := range initial {
		overlap := lexicalOverlap(queryTerms, chunk.Text)
		rescored[i] = scored{
			chunk:     chunk,
			composite: float64(chunk.Score)*0.5 + overlap*0.5,
			key:       chunkKey(chunk),
		}
	}
	sort.Slice(rescored, func(i, j int) bool {
		if rescored[i].composite != rescored[j].composite {
			return rescored[i].composite > rescored[j].composite
		}
		return rescored[i].key < rescored[j].key
	})

	topK := m.cfg.TopK
	if len(rescored) < topK {
		topK = len(rescored)
	}
	results := make([]milvus.SearchResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = rescored[i].chunk
	}
	return results, nil
}

// multiQuery fans out the original embedding plus embeddings of
// deterministic query rewrites, then merges with a stable ordering.
func (m *Manager) multiQuery(ctx context.Context, query string, queryEmbedding []float32, filters map[string]string) ([]milvus.SearchResult, error) {
	variants := queryVariants(query, m.cfg.MaxQueryVariants)
	return m.fanOut(ctx, variants, queryEmbedding, filters)
}

// contextualExpansion seeds a secondary multi-query round with salient
// terms from the initial hits, merging both rounds.
func (m *Manager) contextualExpansion(ctx context.Context, query string, queryEmbedding []float32, filters map[string]string) ([]milvus.SearchResult, error) {
	initial, err := m.dense(ctx, queryEmbedding, m.cfg.TopK, filters)
	if err != nil {
		return nil, err
	}
	if len(initial) == 0 {
		return initial, nil
	}

	sampleLimit := 3
	if len(initial) < sampleLimit {
		sampleLimit = len(initial)
	}
	texts := make([]string, sampleLimit)
	for i := 0; i < sampleLimit; i++ {
		texts[i] = initial[i].Text
	}

	queries := []string{query}
	for _, term := range salientTerms(texts, m.cfg.ExpansionTerms) {
		queries = append(queries, query+" "+term)
	}

	return m.fanOut(ctx, queries, queryEmbedding, filters)
}

// fanOut executes one dense search per query string concurrently.
// Index 0 reuses the already-computed original embedding; the slot
// layout keeps variant order stable for the deterministic merge.
func (m *Manager) fanOut(ctx context.Context, queries []string, originalEmbedding []float32, filters map[string]string) ([]milvus.SearchResult, error) {
	resultSets := make([][]milvus.SearchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrent)

	for i := range queries {
		i := i
		g.Go(func() error {
			embedding := originalEmbedding
			if i > 0 {
				var err error
				embedding, err = m.embedder.EmbedText(gctx, queries[i])
				if err != nil {
					m.logger.Warn("Variant embedding failed, skipping",
						zap.String("variant", queries[i]),
						zap.Error(err),
					)
					return nil
				}
			}

			results, err := m.dense(gctx, embedding, m.cfg.TopK, filters)
			if err != nil {
				if i == 0 {
					return err
				}
				m.logger.Warn("Variant search failed, skipping",
					zap.String("variant", queries[i]),
					zap.Error(err),
				)
				return nil
			}
			resultSets[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeVariantResults(resultSets), nil
}

func lexicalOverlap(queryTerms map[string]bool, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	matched := make(map[string]bool)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if queryTerms[word] {
			matched[word] = true
		}
	}
	return float64(len(matched)) / float64(len(queryTerms))
}
