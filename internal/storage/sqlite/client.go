package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/storage/models"
)

type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewClient(dbPath string, logger *zap.Logger) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		content_hash TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		indexed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		scope_token TEXT,
		query_text TEXT NOT NULL,
		strategy TEXT,
		status TEXT,
		chunks_used INTEGER,
		cache_hit INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_scope ON query_history(scope_token);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.logger.Info("Schema initialized")
	return nil
}

func (c *Client) GetDocumentByHash(ctx context.Context, contentHash string) (*models.DocumentRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT content_hash, source_name, chunk_count, size_bytes, status, indexed_at, created_at
		FROM documents WHERE content_hash = ?`, contentHash)

	var rec models.DocumentRecord
	var indexedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&rec.ContentHash, &rec.SourceName, &rec.ChunkCount, &rec.SizeBytes, &rec.Status, &indexedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	if indexedAt.Valid {
		rec.IndexedAt = time.Unix(indexedAt.Int64, 0)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

func (c *Client) UpsertDocument(ctx context.Context, rec *models.DocumentRecord) error {
	var indexedAt sql.NullInt64
	if !rec.IndexedAt.IsZero() {
		indexedAt = sql.NullInt64{Int64: rec.IndexedAt.Unix(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (content_hash, source_name, chunk_count, size_bytes, status, indexed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			indexed_at = excluded.indexed_at`,
		rec.ContentHash, rec.SourceName, rec.ChunkCount, rec.SizeBytes, rec.Status, indexedAt, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (c *Client) UpdateDocumentStatus(ctx context.Context, contentHash, status string, chunkCount int) error {
	var indexedAt sql.NullInt64
	if status == models.DocStatusIndexed {
		indexedAt = sql.NullInt64{Int64: time.Now().Unix(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, chunk_count = ?, indexed_at = COALESCE(?, indexed_at)
		WHERE content_hash = ?`, status, chunkCount, indexedAt, contentHash)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, contentHash string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE content_hash = ?`, contentHash)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]models.DocumentRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT content_hash, source_name, chunk_count, size_bytes, status, indexed_at, created_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var records []models.DocumentRecord
	for rows.Next() {
		var rec models.DocumentRecord
		var indexedAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&rec.ContentHash, &rec.SourceName, &rec.ChunkCount, &rec.SizeBytes, &rec.Status, &indexedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if indexedAt.Valid {
			rec.IndexedAt = time.Unix(indexedAt.Int64, 0)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (c *Client) InsertQueryRecord(ctx context.Context, rec *models.QueryRecord) error {
	cacheHit := 0
	if rec.CacheHit {
		cacheHit = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_history (id, scope_token, query_text, strategy, status, chunks_used, cache_hit, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScopeToken, rec.QueryText, rec.Strategy, rec.Status, rec.ChunksUsed, cacheHit, rec.LatencyMS, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
