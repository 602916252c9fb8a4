package retrieval

import (
	"context"

	"github.com/docuquery/backend/internal/vector/milvus"
)

type Strategy string

const (
	StrategyDense      Strategy = "dense"
	StrategyHybrid     Strategy = "hybrid"
	StrategyRerank     Strategy = "rerank"
	StrategyMultiQuery Strategy = "multi_query"
	StrategyContextual Strategy = "contextual_expansion"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyDense, StrategyHybrid, StrategyRerank, StrategyMultiQuery, StrategyContextual:
		return Strategy(s), true
	default:
		return "", false
	}
}

// Embedder is satisfied by the embedding service; cache consultation
// happens behind it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Searcher is satisfied by the milvus client; breaker wrapping happens
// behind it.
type Searcher interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int, filters map[string]string) ([]milvus.SearchResult, error)
}

// Result is what a retrieval run produces, cache hit or not.
type Result struct {
	Chunks   []milvus.SearchResult `json:"chunks"`
	Strategy Strategy              `json:"strategy"`
	CacheHit bool                  `json:"cache_hit"`
}
