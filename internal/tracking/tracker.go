package tracking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/storage/models"
)

// Store is the durable persistence the tracker needs. Satisfied by
// the sqlite client; faked in tests.
type Store interface {
	GetDocumentByHash(ctx context.Context, contentHash string) (*models.DocumentRecord, error)
	UpsertDocument(ctx context.Context, rec *models.DocumentRecord) error
	UpdateDocumentStatus(ctx context.Context, contentHash, status string, chunkCount int) error
	DeleteDocument(ctx context.Context, contentHash string) error
	ListDocuments(ctx context.Context) ([]models.DocumentRecord, error)
}

// pendingStaleAfter bounds how long a pending record blocks re-upload.
// A crash between Begin and the terminal status update leaves the record
// pending forever; past this age it is treated as abandoned.
const pendingStaleAfter = 15 * time.Minute

// Tracker answers "has this content been indexed already?" and records
// the lifecycle of each ingested document, keyed by content hash.
type Tracker struct {
	store  Store
	logger *zap.Logger
}

func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// Exists returns the prior record for the hash, or nil when the content
// has never been seen. Failed records are reported as absent so a
// re-upload after a failure gets a fresh attempt, and so are pending
// records older than pendingStaleAfter.
func (t *Tracker) Exists(ctx context.Context, contentHash string) (*models.DocumentRecord, error) {
	rec, err := t.store.GetDocumentByHash(ctx, contentHash)
	if err != nil {
		return nil, fmt.Errorf("tracker lookup failed: %w", err)
	}
	if rec == nil || rec.Status == models.DocStatusFailed {
		return nil, nil
	}
	if rec.Status == models.DocStatusPending && time.Since(rec.CreatedAt) > pendingStaleAfter {
		t.logger.Warn("Stale pending record treated as absent",
			zap.String("content_hash", contentHash),
			zap.Time("created_at", rec.CreatedAt),
		)
		return nil, nil
	}
	return rec, nil
}

func (t *Tracker) Begin(ctx context.Context, contentHash, sourceName string, sizeBytes int64) (*models.DocumentRecord, error) {
	rec := &models.DocumentRecord{
		ContentHash: contentHash,
		SourceName:  sourceName,
		SizeBytes:   sizeBytes,
		Status:      models.DocStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := t.store.UpsertDocument(ctx, rec); err != nil {
		return nil, fmt.Errorf("tracker begin failed: %w", err)
	}
	return rec, nil
}

func (t *Tracker) MarkIndexed(ctx context.Context, contentHash string, chunkCount int) error {
	if err := t.store.UpdateDocumentStatus(ctx, contentHash, models.DocStatusIndexed, chunkCount); err != nil {
		return fmt.Errorf("tracker mark indexed failed: %w", err)
	}
	t.logger.Info("Document indexed",
		zap.String("content_hash", contentHash),
		zap.Int("chunk_count", chunkCount),
	)
	return nil
}

func (t *Tracker) MarkFailed(ctx context.Context, contentHash string) error {
	if err := t.store.UpdateDocumentStatus(ctx, contentHash, models.DocStatusFailed, 0); err != nil {
		return fmt.Errorf("tracker mark failed: %w", err)
	}
	return nil
}

// Purge removes the record entirely. Only used by the explicit delete
// operation, never by the pipeline.
func (t *Tracker) Purge(ctx context.Context, contentHash string) error {
	if err := t.store.DeleteDocument(ctx, contentHash); err != nil {
		return fmt.Errorf("tracker purge failed: %w", err)
	}
	t.logger.Info("Document purged", zap.String("content_hash", contentHash))
	return nil
}

func (t *Tracker) List(ctx context.Context) ([]models.DocumentRecord, error) {
	return t.store.ListDocuments(ctx)
}
