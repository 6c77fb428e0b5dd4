// Package metastore persists document, chunk and processing-log records
// in SQLite, including the status transitions the coordinator relies on.
// All multi-row writes are transactional.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	size INTEGER NOT NULL DEFAULT 0,
	type TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id),
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id),
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS documents_status_idx ON documents(status);
CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id);
CREATE INDEX IF NOT EXISTS logs_document_idx ON processing_logs(document_id);
`

// Store is the SQLite-backed metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the metadata database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "metadata.db")

	// WAL mode keeps readers unblocked while workers write.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies the database is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ClaimDocument upserts the document row for source and takes the
// exclusive processing claim by compare-and-swap on status. A second
// worker claiming the same source gets ErrAlreadyProcessing until the
// first attempt finishes.
func (s *Store) ClaimDocument(ctx context.Context, path, filename string, size int64, fileType string, metadata map[string]string) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning claim: %v", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (filename, path, size, type, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			size = excluded.size,
			type = excluded.type,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, filename, path, size, fileType, meta, StatusPending)
	if err != nil {
		return fmt.Errorf("%w: upserting document: %v", ErrStorage, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE path = ? AND status != ?
	`, StatusProcessing, path, StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: claiming document: %v", ErrStorage, err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading claim result: %v", ErrStorage, err)
	}
	if claimed == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, path)
	}

	if err := appendLog(ctx, tx, path, StatusProcessing, "processing started"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing claim: %v", ErrStorage, err)
	}
	return nil
}

// StoreMetadata stores all chunk rows for the document identified by
// source and marks it completed, in a single transaction. The document
// row is created if absent (keyed by path, so repeat calls stay
// idempotent), and prior chunk rows are replaced, so a retried document
// never accumulates duplicates. On failure the document is explicitly
// moved to failed rather than left at processing.
func (s *Store) StoreMetadata(ctx context.Context, source string, chunks []Chunk) error {
	err := s.storeMetadataTx(ctx, source, chunks)
	if err != nil {
		// Best effort: never leave the document stuck at processing.
		_ = s.UpdateProcessingStatus(context.WithoutCancel(ctx), source, StatusFailed, err.Error())
	}
	return err
}

func (s *Store) storeMetadataTx(ctx context.Context, source string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (filename, path, status)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, filepath.Base(source), source, StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: ensuring document: %v", ErrStorage, err)
	}

	var docID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, source).Scan(&docID)
	if err != nil {
		return fmt.Errorf("%w: looking up document: %v", ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("%w: clearing prior chunks: %v", ErrStorage, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, chunk_index, content, metadata)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: preparing chunk insert: %v", ErrStorage, err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		meta, err := encodeMetadata(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, docID, chunk.ChunkIndex, chunk.Content, meta); err != nil {
			return fmt.Errorf("%w: inserting chunk %d: %v", ErrStorage, chunk.ChunkIndex, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, StatusCompleted, docID)
	if err != nil {
		return fmt.Errorf("%w: marking completed: %v", ErrStorage, err)
	}
	if err := appendLog(ctx, tx, source, StatusCompleted, fmt.Sprintf("stored %d chunks", len(chunks))); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing metadata: %v", ErrStorage, err)
	}
	return nil
}

// UpdateProcessingStatus updates the document status and appends a
// processing-log row atomically.
func (s *Store) UpdateProcessingStatus(ctx context.Context, source, status, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?
	`, status, source)
	if err != nil {
		return fmt.Errorf("%w: updating status: %v", ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading update result: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, source)
	}

	if err := appendLog(ctx, tx, source, status, message); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing status update: %v", ErrStorage, err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, source, status, message string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processing_logs (document_id, status, message)
		SELECT id, ?, ? FROM documents WHERE path = ?
	`, status, message, source)
	if err != nil {
		return fmt.Errorf("%w: appending log: %v", ErrStorage, err)
	}
	return nil
}

// GetDocument returns the document for source, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, source string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, path, size, type, metadata, status, created_at, updated_at
		FROM documents WHERE path = ?
	`, source)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
	}
	return doc, err
}

// GetChunks returns all chunk rows for source ordered by chunk index.
func (s *Store) GetChunks(ctx context.Context, source string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, c.created_at
		FROM chunks c JOIN documents d ON c.document_id = d.id
		WHERE d.path = ?
		ORDER BY c.chunk_index
	`, source)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %v", ErrStorage, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", ErrStorage, err)
		}
		c.Metadata = decodeMetadata(meta)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetLogs returns the append-only processing history for source, oldest
// first.
func (s *Store) GetLogs(ctx context.Context, source string) ([]ProcessingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.status, l.message, l.created_at
		FROM processing_logs l JOIN documents d ON l.document_id = d.id
		WHERE d.path = ?
		ORDER BY l.id
	`, source)
	if err != nil {
		return nil, fmt.Errorf("%w: querying logs: %v", ErrStorage, err)
	}
	defer rows.Close()

	var logs []ProcessingLog
	for rows.Next() {
		var l ProcessingLog
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning log: %v", ErrStorage, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// SearchMetadata returns documents whose metadata satisfies an equality
// AND over filters, most recently created first. Empty filters return all
// documents. Filter values are always bound parameters.
func (s *Store) SearchMetadata(ctx context.Context, filters map[string]string) ([]Document, error) {
	query := `
		SELECT id, filename, path, size, type, metadata, status, created_at, updated_at
		FROM documents
	`
	var args []any
	if len(filters) > 0 {
		query += " WHERE "
		for i, key := range sortedKeys(filters) {
			if i > 0 {
				query += " AND "
			}
			query += "json_extract(metadata, ?) = ?"
			args = append(args, "$."+key, filters[key])
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: searching metadata: %v", ErrStorage, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// GetProcessingStats returns counts by status, total document and chunk
// counts, and the most recently updated documents.
func (s *Store) GetProcessingStats(ctx context.Context, recent int) (*ProcessingStats, error) {
	stats := &ProcessingStats{StatusCounts: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: counting statuses: %v", ErrStorage, err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning status count: %v", ErrStorage, err)
		}
		stats.StatusCounts[status] = count
		stats.TotalDocuments += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating status counts: %v", ErrStorage, err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return nil, fmt.Errorf("%w: counting chunks: %v", ErrStorage, err)
	}

	recentRows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, path, size, type, metadata, status, created_at, updated_at
		FROM documents ORDER BY updated_at DESC, id DESC LIMIT ?
	`, recent)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recent activity: %v", ErrStorage, err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		doc, err := scanDocument(recentRows)
		if err != nil {
			return nil, err
		}
		stats.RecentActivity = append(stats.RecentActivity, *doc)
	}
	return stats, recentRows.Err()
}

// ListByStatus returns documents currently in the given status, oldest
// update first. Used by the failed-task retry sweep.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, path, size, type, metadata, status, created_at, updated_at
		FROM documents WHERE status = ? ORDER BY updated_at ASC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing by status: %v", ErrStorage, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document, its chunks and its processing
// logs. Idempotent: deleting an unknown source is not an error.
func (s *Store) DeleteDocument(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning delete: %v", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var docID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, source).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: looking up document: %v", ErrStorage, err)
	}

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE document_id = ?`,
		`DELETE FROM processing_logs WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
			return fmt.Errorf("%w: deleting document rows: %v", ErrStorage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing delete: %v", ErrStorage, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var meta string
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Path, &doc.Size, &doc.Type,
		&meta, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scanning document: %v", ErrStorage, err)
	}
	doc.Metadata = decodeMetadata(meta)
	return &doc, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
