package metastore

import "time"

// Document statuses. Transitions are monotonic per attempt:
// pending -> processing -> completed | failed. A retry re-enters
// processing as a new attempt, appending new log rows.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is one ingested source, keyed by its unique path.
type Document struct {
	ID        int64
	Filename  string
	Path      string
	Size      int64
	Type      string
	Metadata  map[string]string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is one stored chunk row belonging to a document.
type Chunk struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// ProcessingLog is one append-only audit entry for a document. Log rows
// are never updated or deleted while the document exists.
type ProcessingLog struct {
	ID         int64
	DocumentID int64
	Status     string
	Message    string
	CreatedAt  time.Time
}

// ProcessingStats aggregates document-processing state for dashboards.
type ProcessingStats struct {
	TotalDocuments int
	TotalChunks    int
	StatusCounts   map[string]int
	RecentActivity []Document
}
