package retrieval

import (
	"fmt"
	"sort"

	"github.com/docuquery/backend/internal/vector/milvus"
)

type mergedChunk struct {
	chunk   milvus.SearchResult
	variant int
	key     string
}

// mergeVariantResults deduplicates fan-out results on
// (content_hash, chunk_index), keeping the highest score seen and the
// earliest variant that produced it. The final ordering is fully
// deterministic: score descending, then variant order, then chunk key,
// so identical inputs always yield byte-identical output.
func mergeVariantResults(resultSets [][]milvus.SearchResult) []milvus.SearchResult {
	merged := make(map[string]*mergedChunk)

	for variant, results := range resultSets {
		for _, res := range results {
			key := chunkKey(res)
			existing, ok := merged[key]
			if !ok {
				merged[key] = &mergedChunk{chunk: res, variant: variant, key: key}
				continue
			}
			if res.Score > existing.chunk.Score {
				existing.chunk = res
			}
			if variant < existing.variant {
				existing.variant = variant
			}
		}
	}

	ordered := make([]*mergedChunk, 0, len(merged))
	for _, mc := range merged {
		ordered = append(ordered, mc)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].chunk.Score != ordered[j].chunk.Score {
			return ordered[i].chunk.Score > ordered[j].chunk.Score
		}
		if ordered[i].variant != ordered[j].variant {
			return ordered[i].variant < ordered[j].variant
		}
		return ordered[i].key < ordered[j].key
	})

	chunks := make([]milvus.SearchResult, len(ordered))
	for i, mc := range ordered {
		chunks[i] = mc.chunk
	}
	return chunks
}

func chunkKey(res milvus.SearchResult) string {
	return fmt.Sprintf("%s:%06d", res.ContentHash, res.ChunkIndex)
}

func filterByScore(results []milvus.SearchResult, threshold float64) []milvus.SearchResult {
	filtered := make([]milvus.SearchResult, 0, len(results))
	for _, res := range results {
		if float64(res.Score) >= threshold {
			filtered = append(filtered, res)
		}
	}
	return filtered
}
