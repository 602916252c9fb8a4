package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuquery/backend/internal/storage/models"
	"github.com/docuquery/backend/internal/tracking"
	"github.com/docuquery/backend/internal/vector/milvus"
	"github.com/docuquery/backend/pkg/utils"
)

type memoryDocStore struct {
	mu   sync.Mutex
	docs map[string]*models.DocumentRecord
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{docs: make(map[string]*models.DocumentRecord)}
}

func (s *memoryDocStore) GetDocumentByHash(ctx context.Context, contentHash string) (*models.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[contentHash]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryDocStore) UpsertDocument(ctx context.Context, rec *models.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.docs[rec.ContentHash] = &copied
	return nil
}

func (s *memoryDocStore) UpdateDocumentStatus(ctx context.Context, contentHash, status string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[contentHash]
	if !ok {
		return errors.New("not found")
	}
	rec.Status = status
	if chunkCount > 0 {
		rec.ChunkCount = chunkCount
	}
	return nil
}

func (s *memoryDocStore) DeleteDocument(ctx context.Context, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, contentHash)
	return nil
}

func (s *memoryDocStore) ListDocuments(ctx context.Context) ([]models.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DocumentRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, *rec)
	}
	return out, nil
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return nil, errors.New("embedding provider down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *countingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeIndex struct {
	mu          sync.Mutex
	upserts     []milvus.DocumentChunk
	deletes     []string
	failNext    bool
	failDeletes bool
}

func (f *fakeIndex) Upsert(ctx context.Context, chunks []milvus.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("vector store down")
	}
	f.upserts = append(f.upserts, chunks...)
	return nil
}

func (f *fakeIndex) DeleteByContentHash(ctx context.Context, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return errors.New("vector store down")
	}
	f.deletes = append(f.deletes, contentHash)
	kept := f.upserts[:0]
	for _, chunk := range f.upserts {
		if chunk.ContentHash != contentHash {
			kept = append(kept, chunk)
		}
	}
	f.upserts = kept
	return nil
}

func (f *fakeIndex) chunksFor(contentHash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, chunk := range f.upserts {
		if chunk.ContentHash == contentHash {
			n++
		}
	}
	return n
}

func newTestProcessor(embedder Embedder, index VectorIndex, store tracking.Store) *Processor {
	tracker := tracking.NewTracker(store, nil)
	chunker := NewChunker(500, 50, nil)
	return NewProcessor(tracker, chunker, embedder, index, nil)
}

func TestIngest_IndexesNewDocument(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{}
	index := &fakeIndex{}
	p := newTestProcessor(embedder, index, store)

	result, err := p.Ingest(context.Background(), "notes.txt", "user-a", []byte("The contract covers refunds. Billing happens monthly."))
	require.NoError(t, err)
	assert.Equal(t, StageIndexed, result.Stage)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.ChunkCount)

	rec, err := store.GetDocumentByHash(context.Background(), result.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.DocStatusIndexed, rec.Status)

	require.Len(t, index.upserts, 1)
	assert.Equal(t, result.ContentHash, index.upserts[0].ContentHash)
	assert.Equal(t, "user-a", index.upserts[0].ScopeToken)
}

func TestIngest_DuplicateSkipsAllProviderWork(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{}
	index := &fakeIndex{}
	p := newTestProcessor(embedder, index, store)

	content := []byte("Identical content uploaded twice.")
	first, err := p.Ingest(context.Background(), "a.txt", "user-a", content)
	require.NoError(t, err)
	callsAfterFirst := embedder.callCount()

	// Same bytes under a different name still dedup on content.
	second, err := p.Ingest(context.Background(), "b.txt", "user-a", content)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, StageSkipped, second.Stage)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, callsAfterFirst, embedder.callCount(), "duplicate must not call the provider")
	assert.Len(t, index.upserts, 1)
}

func TestIngest_FailedDocumentCanBeRetried(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{fail: true}
	index := &fakeIndex{}
	p := newTestProcessor(embedder, index, store)

	content := []byte("Content that fails the first time.")
	_, err := p.Ingest(context.Background(), "doc.txt", "user-a", content)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEmbedding, stageErr.Stage)

	rec, err := store.GetDocumentByHash(context.Background(), utils.HashBytes(content))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.DocStatusFailed, rec.Status)

	// A failed record does not block the retry.
	embedder.fail = false
	result, err := p.Ingest(context.Background(), "doc.txt", "user-a", content)
	require.NoError(t, err)
	assert.Equal(t, StageIndexed, result.Stage)
}

func TestIngest_IndexFailureRollsBack(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{}
	index := &fakeIndex{failNext: true}
	p := newTestProcessor(embedder, index, store)

	content := []byte("Content whose indexing fails.")
	result, err := p.Ingest(context.Background(), "doc.txt", "user-a", content)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageIndexing, stageErr.Stage)

	// Rollback deleted the partial chunks after the cleanup delete
	// that precedes every indexing attempt.
	require.Len(t, index.deletes, 2)
	assert.Equal(t, result.ContentHash, index.deletes[len(index.deletes)-1])
	assert.Zero(t, index.chunksFor(result.ContentHash))
}

func TestIngest_RetryAfterFailedRollbackClearsOrphans(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{}
	index := &fakeIndex{}
	p := newTestProcessor(embedder, index, store)

	content := []byte("Content whose first indexing attempt strands chunks.")
	contentHash := utils.HashBytes(content)

	// Simulate a prior run that wrote chunks and then crashed before
	// its rollback could remove them.
	index.upserts = append(index.upserts, milvus.DocumentChunk{
		ID:          "orphan-1",
		ContentHash: contentHash,
		Text:        "stale chunk",
	})

	result, err := p.Ingest(context.Background(), "doc.txt", "user-a", content)
	require.NoError(t, err)
	assert.Equal(t, StageIndexed, result.Stage)

	// Only the fresh chunks remain; the orphan was cleared before insert.
	assert.Equal(t, result.ChunkCount, index.chunksFor(contentHash))
	for _, chunk := range index.upserts {
		assert.NotEqual(t, "orphan-1", chunk.ID)
	}
}

func TestIngest_StalePendingRecordIsReingested(t *testing.T) {
	store := newMemoryDocStore()
	embedder := &countingEmbedder{}
	index := &fakeIndex{}
	p := newTestProcessor(embedder, index, store)

	content := []byte("Content whose first run crashed mid-pipeline.")
	contentHash := utils.HashBytes(content)

	// A crash between Begin and the terminal status leaves a pending
	// record with no chunks. It must not shadow the re-upload forever.
	require.NoError(t, store.UpsertDocument(context.Background(), &models.DocumentRecord{
		ContentHash: contentHash,
		SourceName:  "doc.txt",
		Status:      models.DocStatusPending,
		CreatedAt:   time.Now().Add(-24 * time.Hour),
	}))

	result, err := p.Ingest(context.Background(), "doc.txt", "user-a", content)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, StageIndexed, result.Stage)
	assert.Equal(t, 1, result.ChunkCount)

	rec, err := store.GetDocumentByHash(context.Background(), contentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.DocStatusIndexed, rec.Status)
}

func TestIngest_UnsupportedFileType(t *testing.T) {
	p := newTestProcessor(&countingEmbedder{}, &fakeIndex{}, newMemoryDocStore())

	_, err := p.Ingest(context.Background(), "image.png", "user-a", []byte{0x89, 0x50})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestIngest_EmptyDocument(t *testing.T) {
	p := newTestProcessor(&countingEmbedder{}, &fakeIndex{}, newMemoryDocStore())

	_, err := p.Ingest(context.Background(), "empty.txt", "user-a", []byte("   \n  "))
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestExtractText_HTMLStripsMarkup(t *testing.T) {
	html := `<html><head><script>alert(1)</script><style>body{}</style></head>
<body><nav>menu</nav><p>Refund policy details.</p><footer>legal</footer></body></html>`

	text, err := ExtractText("page.html", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, text, "Refund policy details.")
	assert.NotContains(t, text, "alert(1)")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "legal")
}
