package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/cache"
	"github.com/docuquery/backend/internal/classifier"
	"github.com/docuquery/backend/internal/ingestion"
	"github.com/docuquery/backend/internal/llm"
	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/internal/retrieval"
	"github.com/docuquery/backend/internal/storage/models"
	"github.com/docuquery/backend/internal/tasks"
	"github.com/docuquery/backend/pkg/circuitbreaker"
)

// Query outcome statuses. Degraded statuses still return a response
// body so callers can distinguish failure modes.
const (
	StatusOK                    = "ok"
	StatusNoContext             = "no_context"
	StatusNotAQuestion          = "no_retrieval_needed"
	StatusRetrievalUnavailable  = "retrieval_unavailable"
	StatusGenerationUnavailable = "generation_unavailable"
)

// Ingest outcome statuses.
const (
	IngestStatusIndexed       = "indexed"
	IngestStatusAlreadyExists = "already_exists"
	IngestStatusProcessing    = "processing"
	IngestStatusFailed        = "failed"
)

type QueryRequest struct {
	Query      string
	ScopeToken string
	DocumentID string
	Strategy   string
	MaxTokens  int
}

type QueryResponse struct {
	Answer         string                    `json:"answer"`
	Status         string                    `json:"status"`
	Strategy       retrieval.Strategy        `json:"strategy"`
	Classification classifier.Classification `json:"classification"`
	Chunks         []ChunkRef                `json:"chunks,omitempty"`
	CacheHit       bool                      `json:"cache_hit"`
	LatencyMS      int64                     `json:"latency_ms"`
}

type ChunkRef struct {
	SourceName string  `json:"source_name"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

type IngestRequest struct {
	Filename   string
	ScopeToken string
	Data       []byte
}

type IngestResponse struct {
	Status      string `json:"status"`
	ContentHash string `json:"content_hash,omitempty"`
	ChunkCount  int    `json:"chunk_count,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
}

// HistoryStore records completed queries. Recording is best effort and
// never fails a query.
type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, rec *models.QueryRecord) error
}

type Config struct {
	InlineSizeLimit int64
	DefaultStrategy retrieval.Strategy
}

// Orchestrator composes classification, retrieval, generation, and
// ingestion behind a single façade the HTTP handlers call into.
type Orchestrator struct {
	classifier *classifier.Classifier
	retriever  *retrieval.Manager
	generator  llm.Generator
	processor  *ingestion.Processor
	queue      *tasks.Queue
	history    HistoryStore
	breakers   *circuitbreaker.Registry
	cacheStore cache.Store
	cfg        Config
	logger     *zap.Logger
}

func New(
	cls *classifier.Classifier,
	retriever *retrieval.Manager,
	generator llm.Generator,
	processor *ingestion.Processor,
	queue *tasks.Queue,
	history HistoryStore,
	breakers *circuitbreaker.Registry,
	cacheStore cache.Store,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.InlineSizeLimit <= 0 {
		cfg.InlineSizeLimit = 10 << 20
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = retrieval.StrategyHybrid
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		classifier: cls,
		retriever:  retriever,
		generator:  generator,
		processor:  processor,
		queue:      queue,
		history:    history,
		breakers:   breakers,
		cacheStore: cacheStore,
		cfg:        cfg,
		logger:     logger,
	}
}

// Ingest routes a document either through the inline pipeline or, for
// payloads over the inline limit, onto the background queue.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	if int64(len(req.Data)) > o.cfg.InlineSizeLimit && o.queue != nil {
		taskID, err := o.queue.Enqueue(req.Filename, req.ScopeToken, req.Data)
		if err != nil {
			return nil, err
		}
		return &IngestResponse{Status: IngestStatusProcessing, TaskID: taskID}, nil
	}

	result, err := o.processor.Ingest(ctx, req.Filename, req.ScopeToken, req.Data)
	if err != nil {
		resp := &IngestResponse{Status: IngestStatusFailed}
		if result != nil {
			resp.ContentHash = result.ContentHash
		}
		return resp, err
	}
	resp := &IngestResponse{
		Status:      IngestStatusIndexed,
		ContentHash: result.ContentHash,
		ChunkCount:  result.ChunkCount,
	}
	if result.Skipped {
		resp.Status = IngestStatusAlreadyExists
	}
	return resp, nil
}

// RetrieveAndGenerate answers a query: classify, retrieve context, and
// generate. Dependency outages degrade the response status instead of
// failing the request outright.
func (o *Orchestrator) RetrieveAndGenerate(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	classification := o.classifier.Classify(req.Query)

	resp := &QueryResponse{
		Status:         StatusOK,
		Classification: classification,
	}

	if !classification.RequiresContext {
		resp.Status = StatusNotAQuestion
		resp.Answer = conversationalReply(req.Query)
		resp.LatencyMS = time.Since(start).Milliseconds()
		metrics.QueryTotal.WithLabelValues(resp.Status).Inc()
		return resp, nil
	}

	strategy := o.resolveStrategy(req.Strategy, classification)
	resp.Strategy = strategy

	scope := cache.Scope{Token: req.ScopeToken, DocumentID: req.DocumentID}
	filters := map[string]string{}
	if req.ScopeToken != "" {
		filters["scope_token"] = req.ScopeToken
	}
	if req.DocumentID != "" {
		filters["content_hash"] = req.DocumentID
	}

	result, err := o.retriever.Retrieve(ctx, req.Query, strategy, scope, filters)
	if err != nil {
		resp.Status = StatusRetrievalUnavailable
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			o.logger.Warn("Retrieval dependency circuit open", zap.Error(err))
		} else {
			o.logger.Error("Retrieval failed", zap.Error(err))
		}
		resp.LatencyMS = time.Since(start).Milliseconds()
		o.record(ctx, req, resp, strategy)
		return resp, nil
	}
	resp.CacheHit = result.CacheHit
	resp.Chunks = toChunkRefs(result)

	if len(result.Chunks) == 0 {
		resp.Status = StatusNoContext
		resp.Answer = "I could not find anything relevant to that in the indexed documents."
		resp.LatencyMS = time.Since(start).Milliseconds()
		o.record(ctx, req, resp, strategy)
		return resp, nil
	}

	generated, err := o.generator.Complete(ctx, llm.Request{
		Query:     req.Query,
		Context:   buildContext(result),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		// Retrieval succeeded, so keep the chunks in the degraded
		// response for the caller to use.
		resp.Status = StatusGenerationUnavailable
		o.logger.Error("Generation failed", zap.Error(err))
		resp.LatencyMS = time.Since(start).Milliseconds()
		o.record(ctx, req, resp, strategy)
		return resp, nil
	}
	resp.Answer = generated.Answer

	resp.LatencyMS = time.Since(start).Milliseconds()
	o.record(ctx, req, resp, strategy)
	return resp, nil
}

// Health reports breaker states and dependency reachability.
func (o *Orchestrator) Health(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"breakers": o.breakers.States(),
	}
	if o.cacheStore != nil {
		cacheStatus := "up"
		if err := o.cacheStore.Ping(ctx); err != nil {
			cacheStatus = "down"
		}
		health["cache"] = cacheStatus
	}
	if o.queue != nil {
		health["queue_depth"] = o.queue.Depth()
	}
	return health
}

func (o *Orchestrator) resolveStrategy(requested string, classification classifier.Classification) retrieval.Strategy {
	if requested != "" {
		if strategy, ok := retrieval.ParseStrategy(requested); ok {
			return strategy
		}
		o.logger.Warn("Unknown requested strategy, using suggestion", zap.String("strategy", requested))
	}
	if classification.SuggestedStrategy != "" {
		return classification.SuggestedStrategy
	}
	return o.cfg.DefaultStrategy
}

// record updates the per-query metrics and the history table. It runs
// for every outcome that picked a strategy, degraded ones included.
func (o *Orchestrator) record(ctx context.Context, req QueryRequest, resp *QueryResponse, strategy retrieval.Strategy) {
	metrics.QueryTotal.WithLabelValues(resp.Status).Inc()
	metrics.QueryDuration.WithLabelValues(string(strategy)).Observe(float64(resp.LatencyMS) / 1000)
	if o.history == nil {
		return
	}
	rec := &models.QueryRecord{
		ID:         uuid.NewString(),
		ScopeToken: req.ScopeToken,
		QueryText:  req.Query,
		Strategy:   string(strategy),
		Status:     resp.Status,
		ChunksUsed: len(resp.Chunks),
		CacheHit:   resp.CacheHit,
		LatencyMS:  int(resp.LatencyMS),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.history.InsertQueryRecord(ctx, rec); err != nil {
		o.logger.Warn("Failed to record query history", zap.Error(err))
	}
}

func toChunkRefs(result *retrieval.Result) []ChunkRef {
	refs := make([]ChunkRef, len(result.Chunks))
	for i, chunk := range result.Chunks {
		refs[i] = ChunkRef{
			SourceName: chunk.SourceName,
			ChunkIndex: chunk.ChunkIndex,
			Score:      chunk.Score,
			Text:       chunk.Text,
		}
	}
	return refs
}

func buildContext(result *retrieval.Result) string {
	var sb strings.Builder
	for i, chunk := range result.Chunks {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString("[")
		sb.WriteString(chunk.SourceName)
		sb.WriteString("] ")
		sb.WriteString(chunk.Text)
	}
	return sb.String()
}

func conversationalReply(query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	if strings.Contains(lower, "thank") {
		return "You're welcome. Ask me anything about your documents."
	}
	return "Hello. Upload a document and ask me questions about it."
}
