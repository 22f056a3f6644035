package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const documentColumns = `id, bot_id, file_name, media_type, file_size, storage_url,
	status, error_message, chunk_count, processed_at, created_at, updated_at`

// CreateDocument inserts a document row. Zero CreatedAt/UpdatedAt default to
// now; an empty Status defaults to PENDING.
func (s *Store) CreateDocument(d Document) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, bot_id, file_name, media_type, file_size, storage_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.BotID, d.FileName, d.MediaType, d.FileSize, d.StorageURL, d.Status,
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// RegisterUpload records a confirmed upload and enqueues its ingestion job in
// one transaction, so exactly one job exists per successful confirmation.
func (s *Store) RegisterUpload(d Document, job Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upload transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	d.Status = StatusUploaded
	if _, err := tx.Exec(`
		INSERT INTO documents (id, bot_id, file_name, media_type, file_size, storage_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.BotID, d.FileName, d.MediaType, d.FileSize, d.StorageURL, d.Status,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	); err != nil {
		if isUniqueViolation(err, "documents.storage_url") {
			return ErrDuplicateStorageURL
		}
		return fmt.Errorf("inserting document: %w", err)
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	if _, err := tx.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts,
		now.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("enqueueing ingestion job: %w", err)
	}

	return tx.Commit()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the given column. The driver exposes constraint errors by message only.
func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocumentsByBot returns the bot's documents, newest first.
func (s *Store) ListDocumentsByBot(botID string) ([]Document, error) {
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM documents WHERE bot_id = ? ORDER BY created_at DESC`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document; its chunk rows cascade.
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocumentProcessing transitions UPLOADED -> PROCESSING. Re-applying on a
// document already in PROCESSING is a no-op, so a retried step converges.
// Returns ErrNotFound if the document does not exist.
func (s *Store) MarkDocumentProcessing(id string) error {
	res, err := s.db.Exec(`
		UPDATE documents SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusProcessing, time.Now().UTC().Format(time.RFC3339),
		id, StatusUploaded, StatusProcessing,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetDocument(id); err != nil {
			return err
		}
		return fmt.Errorf("document %s is not in an ingestable state", id)
	}
	return nil
}

// MarkDocumentProcessed records the terminal PROCESSED state with the chunk
// count and processing timestamp. Idempotent: re-applying over an existing
// PROCESSED row sets the same values again.
func (s *Store) MarkDocumentProcessed(id string, chunkCount int, processedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE documents SET status = ?, chunk_count = ?, processed_at = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusProcessed, chunkCount, processedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id, StatusProcessing, StatusProcessed,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetDocument(id); err != nil {
			return err
		}
		return fmt.Errorf("document %s cannot transition to PROCESSED", id)
	}
	return nil
}

// MarkDocumentFailed records the terminal FAILED state with a human-readable
// message. Runs from any state so the pipeline failure handler always lands.
func (s *Store) MarkDocumentFailed(id, message string) error {
	res, err := s.db.Exec(`
		UPDATE documents SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		StatusFailed, message, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var processedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&d.ID, &d.BotID, &d.FileName, &d.MediaType, &d.FileSize, &d.StorageURL,
		&d.Status, &d.ErrorMessage, &d.ChunkCount, &processedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if processedAt.Valid && processedAt.String != "" {
		if d.ProcessedAt, err = time.Parse(time.RFC3339, processedAt.String); err != nil {
			return Document{}, fmt.Errorf("parsing processed_at: %w", err)
		}
	}
	return d, nil
}
