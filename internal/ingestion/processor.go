package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/internal/tracking"
	"github.com/docuquery/backend/internal/vector/milvus"
	"github.com/docuquery/backend/pkg/utils"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyDocument       = errors.New("document contains no extractable text")
)

// Stage names the point in the pipeline a document has reached. They
// are recorded in results and errors so callers can tell how far a
// failed ingest got.
type Stage string

const (
	StageReceived    Stage = "received"
	StageHashChecked Stage = "hash_checked"
	StageSkipped     Stage = "skipped"
	StageChunking    Stage = "chunking"
	StageEmbedding   Stage = "embedding"
	StageIndexing    Stage = "indexing"
	StageIndexed     Stage = "indexed"
	StageFailed      Stage = "failed"
)

// StageError wraps a pipeline failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion failed at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

type Result struct {
	ContentHash string `json:"content_hash"`
	SourceName  string `json:"source_name"`
	ChunkCount  int    `json:"chunk_count"`
	Stage       Stage  `json:"stage"`
	Skipped     bool   `json:"skipped"`
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the subset of the vector store the pipeline needs.
// DeleteByContentHash doubles as the rollback path when indexing fails
// partway through.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []milvus.DocumentChunk) error
	DeleteByContentHash(ctx context.Context, contentHash string) error
}

// Processor runs the ingestion pipeline: hash the content, skip known
// documents, extract, chunk, embed, and index, tracking status in the
// document store throughout.
type Processor struct {
	tracker  *tracking.Tracker
	chunker  *Chunker
	embedder Embedder
	index    VectorIndex
	logger   *zap.Logger
}

func NewProcessor(tracker *tracking.Tracker, chunker *Chunker, embedder Embedder, index VectorIndex, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		tracker:  tracker,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Ingest processes one document. A document whose content hash is
// already indexed is skipped before any extraction or provider work.
func (p *Processor) Ingest(ctx context.Context, filename, scopeToken string, data []byte) (*Result, error) {
	contentHash := utils.HashBytes(data)
	result := &Result{
		ContentHash: contentHash,
		SourceName:  filename,
		Stage:       StageReceived,
	}

	existing, err := p.tracker.Exists(ctx, contentHash)
	if err != nil {
		return result, stageErr(StageHashChecked, err)
	}
	result.Stage = StageHashChecked
	if existing != nil {
		result.Stage = StageSkipped
		result.Skipped = true
		result.ChunkCount = existing.ChunkCount
		metrics.DocumentsProcessed.WithLabelValues("skipped").Inc()
		p.logger.Info("Document already indexed, skipping",
			zap.String("content_hash", contentHash),
			zap.String("source", filename),
		)
		return result, nil
	}

	if _, err := p.tracker.Begin(ctx, contentHash, filename, int64(len(data))); err != nil {
		return result, stageErr(StageHashChecked, err)
	}

	text, err := ExtractText(filename, data)
	if err != nil {
		return p.fail(ctx, result, StageChunking, err)
	}

	result.Stage = StageChunking
	chunks := p.chunker.Chunk(text)
	if len(chunks) == 0 {
		return p.fail(ctx, result, StageChunking, ErrEmptyDocument)
	}

	result.Stage = StageEmbedding
	embeddings, err := p.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return p.fail(ctx, result, StageEmbedding, err)
	}
	if len(embeddings) != len(chunks) {
		return p.fail(ctx, result, StageEmbedding,
			fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(embeddings)))
	}

	result.Stage = StageIndexing
	// A prior failed run whose rollback did not complete can leave
	// orphan chunks under this hash. Clear them before inserting so a
	// retry never double-indexes.
	if err := p.index.DeleteByContentHash(ctx, contentHash); err != nil {
		p.logger.Warn("Pre-index cleanup failed",
			zap.String("content_hash", contentHash),
			zap.Error(err),
		)
	}
	docs := make([]milvus.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		docs[i] = milvus.DocumentChunk{
			ID:          uuid.NewString(),
			Embedding:   embeddings[i],
			Text:        chunk,
			ContentHash: contentHash,
			SourceName:  filename,
			ChunkIndex:  i,
			ScopeToken:  scopeToken,
		}
	}
	if err := p.index.Upsert(ctx, docs); err != nil {
		// Remove any partially written chunks so a retry starts clean.
		if rbErr := p.index.DeleteByContentHash(ctx, contentHash); rbErr != nil {
			p.logger.Error("Rollback of partial index failed",
				zap.String("content_hash", contentHash),
				zap.Error(rbErr),
			)
		}
		return p.fail(ctx, result, StageIndexing, err)
	}

	if err := p.tracker.MarkIndexed(ctx, contentHash, len(chunks)); err != nil {
		return result, stageErr(StageIndexing, err)
	}

	result.Stage = StageIndexed
	result.ChunkCount = len(chunks)
	metrics.DocumentsProcessed.WithLabelValues("indexed").Inc()
	metrics.ChunksIndexed.Add(float64(len(chunks)))
	p.logger.Info("Document indexed",
		zap.String("content_hash", contentHash),
		zap.String("source", filename),
		zap.Int("chunks", len(chunks)),
	)
	return result, nil
}

func (p *Processor) fail(ctx context.Context, result *Result, stage Stage, cause error) (*Result, error) {
	result.Stage = StageFailed
	metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
	if err := p.tracker.MarkFailed(ctx, result.ContentHash); err != nil {
		p.logger.Error("Failed to record document failure",
			zap.String("content_hash", result.ContentHash),
			zap.Error(err),
		)
	}
	return result, stageErr(stage, cause)
}
