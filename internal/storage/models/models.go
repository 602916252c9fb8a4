package models

import "time"

// Document statuses. A record is created as pending when the pipeline
// starts, and moves to indexed or failed exactly once.
const (
	DocStatusPending = "pending"
	DocStatusIndexed = "indexed"
	DocStatusFailed  = "failed"
)

// DocumentRecord tracks an ingested document, keyed by its content hash.
type DocumentRecord struct {
	ContentHash string
	SourceName  string
	ChunkCount  int
	SizeBytes   int64
	Status      string
	IndexedAt   time.Time
	CreatedAt   time.Time
}

type QueryRecord struct {
	ID          string
	ScopeToken  string
	QueryText   string
	Strategy    string
	Status      string
	ChunksUsed  int
	CacheHit    bool
	LatencyMS   int
	CreatedAt   time.Time
}
