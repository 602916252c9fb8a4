package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/docuquery/backend/internal/cache"
	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/pkg/circuitbreaker"
	"github.com/docuquery/backend/pkg/retry"
)

const breakerName = "embedding"

// Service fronts the embedding provider with the exact-match cache.
// Cached texts never touch the provider or its breaker; misses are
// batched and bounded by a semaphore so the rate-limited provider is
// not overwhelmed.
type Service struct {
	provider  Provider
	cache     *cache.EmbeddingCache
	breakers  *circuitbreaker.Registry
	policy    retry.Policy
	sem       *semaphore.Weighted
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

type ServiceConfig struct {
	Concurrency int
	BatchSize   int
	TimeoutSec  int
}

func NewService(provider Provider, embCache *cache.EmbeddingCache, breakers *circuitbreaker.Registry, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := retry.DefaultPolicy()
	policy.RetryableErrors = []error{ErrRateLimited}
	policy.Logger = logger

	return &Service{
		provider:  provider,
		cache:     embCache,
		breakers:  breakers,
		policy:    policy,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		batchSize: cfg.BatchSize,
		timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
		logger:    logger,
	}
}

func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts returns one vector per input text, in input order. Each
// text is looked up in the cache first; only misses are sent to the
// provider.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := s.provider.Model()
	vectors := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vector, ok := s.cache.Get(ctx, model, text); ok {
			vectors[i] = vector
			continue
		}
		missTexts = append(missTexts, cache.NormalizeText(text))
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	for start := 0; start < len(missTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		embedded, err := s.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(embedded) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embedded), len(batch))
		}

		for j, vector := range embedded {
			idx := missIdx[start+j]
			vectors[idx] = vector
			s.cache.Set(ctx, model, texts[idx], vector)
		}
	}

	s.logger.Debug("Texts embedded",
		zap.Int("total", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missTexts)),
	)
	return vectors, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	var embedded [][]float32
	err := s.breakers.Execute(ctx, breakerName, func() error {
		return retry.Do(ctx, s.policy, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			result, err := s.provider.Embed(callCtx, batch)
			if err != nil {
				metrics.EmbeddingCalls.WithLabelValues("error").Inc()
				return err
			}
			metrics.EmbeddingCalls.WithLabelValues("ok").Inc()
			embedded = result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return embedded, nil
}
