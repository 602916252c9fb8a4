package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docuquery/backend/pkg/circuitbreaker"
)

const breakerName = "vector_store"

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	timeout        time.Duration
	breakers       *circuitbreaker.Registry
	logger         *zap.Logger
}

// DocumentChunk is one indexed passage of a document.
type DocumentChunk struct {
	ID          string
	Embedding   []float32
	Text        string
	ContentHash string
	SourceName  string
	ChunkIndex  int
	ScopeToken  string
}

type SearchResult struct {
	ChunkID     string
	Text        string
	ContentHash string
	SourceName  string
	ChunkIndex  int
	Score       float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim, timeoutSec int, breakers *circuitbreaker.Registry, logger *zap.Logger) (*Client, error) {
	var c client.Client
	var err error
	if apiKey != "" {
		c, err = client.NewDefaultGrpcClientWithAuth(context.Background(), endpoint, "", apiKey)
	} else {
		c, err = client.NewGrpcClient(context.Background(), endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if timeoutSec <= 0 {
		timeoutSec = 10
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		timeout:        time.Duration(timeoutSec) * time.Second,
		breakers:       breakers,
		logger:         logger,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		m.logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "96"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       "content_hash",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "source_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "scope_token",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	m.logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Upsert(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	hashes := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	indexes := make([]int64, len(chunks))
	scopes := make([]string, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		hashes[i] = chunk.ContentHash
		sources[i] = chunk.SourceName
		indexes[i] = int64(chunk.ChunkIndex)
		scopes[i] = chunk.ScopeToken
	}

	return m.breakers.Execute(ctx, breakerName, func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		_, err := m.client.Insert(
			callCtx,
			m.collectionName,
			"",
			entity.NewColumnVarChar("chunk_id", chunkIDs),
			entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
			entity.NewColumnVarChar("text", texts),
			entity.NewColumnVarChar("content_hash", hashes),
			entity.NewColumnVarChar("source_name", sources),
			entity.NewColumnInt64("chunk_index", indexes),
			entity.NewColumnVarChar("scope_token", scopes),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}

		if err := m.client.Flush(callCtx, m.collectionName, false); err != nil {
			return fmt.Errorf("failed to flush: %w", err)
		}

		m.logger.Info("Chunks upserted", zap.Int("count", len(chunks)))
		return nil
	})
}

// Search returns the topK nearest chunks. Filters are exact-equality
// constraints on content_hash, source_name, or scope_token.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	expr := buildFilterExpr(filters)

	var results []SearchResult
	err := m.breakers.Execute(ctx, breakerName, func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		sp, _ := entity.NewIndexIvfFlatSearchParam(16)
		searchResult, err := m.client.Search(
			callCtx,
			m.collectionName,
			[]string{},
			expr,
			[]string{"chunk_id", "text", "content_hash", "source_name", "chunk_index"},
			[]entity.Vector{entity.FloatVector(queryEmbedding)},
			"embedding",
			entity.IP,
			topK,
			sp,
		)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}

		for _, sr := range searchResult {
			for i := 0; i < sr.ResultCount; i++ {
				chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
				text, _ := sr.Fields.GetColumn("text").Get(i)
				hash, _ := sr.Fields.GetColumn("content_hash").Get(i)
				source, _ := sr.Fields.GetColumn("source_name").Get(i)
				index, _ := sr.Fields.GetColumn("chunk_index").Get(i)

				results = append(results, SearchResult{
					ChunkID:     chunkID.(string),
					Text:        text.(string),
					ContentHash: hash.(string),
					SourceName:  source.(string),
					ChunkIndex:  int(index.(int64)),
					Score:       sr.Scores[i],
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)
	return results, nil
}

// DeleteByContentHash removes every chunk of a document. Used both by
// the explicit purge operation and by ingestion rollback after a
// partial index failure.
func (m *Client) DeleteByContentHash(ctx context.Context, contentHash string) error {
	return m.breakers.Execute(ctx, breakerName, func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		expr := fmt.Sprintf(`content_hash == "%s"`, contentHash)
		if err := m.client.Delete(callCtx, m.collectionName, "", expr); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}

		m.logger.Info("Chunks deleted", zap.String("content_hash", contentHash))
		return nil
	})
}

func (m *Client) HasContentHash(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := m.breakers.Execute(ctx, breakerName, func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		expr := fmt.Sprintf(`content_hash == "%s"`, contentHash)
		rs, err := m.client.Query(callCtx, m.collectionName, []string{}, expr, []string{"chunk_id"})
		if err != nil {
			return fmt.Errorf("failed to query chunks: %w", err)
		}
		for _, col := range rs {
			if col.Name() == "chunk_id" && col.Len() > 0 {
				exists = true
			}
		}
		return nil
	})
	return exists, err
}

func buildFilterExpr(filters map[string]string) string {
	expr := ""
	for _, field := range []string{"content_hash", "source_name", "scope_token"} {
		value, ok := filters[field]
		if !ok || value == "" {
			continue
		}
		if expr != "" {
			expr += " && "
		}
		expr += fmt.Sprintf(`%s == "%s"`, field, value)
	}
	return expr
}
