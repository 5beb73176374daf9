package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrBatchNotFound = errors.New("batch job not found")

// BatchJob is the durable record of a batch download.
type BatchJob struct {
	ID           string
	Quality      string
	URLs         []string
	Status       string
	ArchivePath  *string
	ArchiveURL   *string
	Succeeded    int
	Failed       int
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

func (b *BatchJob) IsTerminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusFailed
}

type BatchRepository struct {
	db  *DB
	now func() time.Time
}

func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db, now: time.Now}
}

const batchColumns = `id, quality, urls, status, archive_path, archive_url, succeeded, failed,
	error_message, created_at, updated_at, completed_at`

func (r *BatchRepository) Create(ctx context.Context, urls []string, quality string) (*BatchJob, error) {
	data, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("encode urls: %w", err)
	}
	now := r.now().UTC()
	b := &BatchJob{
		ID:        uuid.New().String(),
		Quality:   quality,
		URLs:      urls,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.db.exec(ctx, `
		INSERT INTO batch_jobs (id, quality, urls, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, quality, string(data), b.Status, timestamp(now), timestamp(now))
	if err != nil {
		return nil, fmt.Errorf("insert batch job: %w", err)
	}
	return b, nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*BatchJob, error) {
	row := r.db.queryRow(ctx, `SELECT `+batchColumns+` FROM batch_jobs WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (r *BatchRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE batch_jobs
		SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusProcessing, timestamp(r.now()), id)
}

// Complete records the retained archive and per-item outcome counts.
func (r *BatchRepository) Complete(ctx context.Context, id, archivePath, archiveURL string, succeeded, failed int) error {
	if archivePath == "" {
		return errors.New("completed batch requires an archive path")
	}
	var urlArg any
	if archiveURL != "" {
		urlArg = archiveURL
	}
	now := timestamp(r.now())
	return r.update(ctx, `
		UPDATE batch_jobs
		SET status = ?, archive_path = ?, archive_url = ?, succeeded = ?, failed = ?,
			error_message = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, archivePath, urlArg, succeeded, failed, now, now, id)
}

func (r *BatchRepository) Fail(ctx context.Context, id, message string, succeeded, failed int) error {
	now := timestamp(r.now())
	return r.update(ctx, `
		UPDATE batch_jobs
		SET status = ?, error_message = ?, archive_path = NULL, archive_url = NULL,
			succeeded = ?, failed = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusFailed, message, succeeded, failed, now, now, id)
}

func (r *BatchRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update batch job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*BatchJob, error) {
	var (
		b           BatchJob
		urls        string
		archivePath sql.NullString
		archiveURL  sql.NullString
		errMsg      sql.NullString
		createdAt   nullTime
		updatedAt   nullTime
		completedAt nullTime
	)
	if err := scanner.Scan(
		&b.ID, &b.Quality, &urls, &b.Status, &archivePath, &archiveURL, &b.Succeeded, &b.Failed,
		&errMsg, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(urls), &b.URLs); err != nil {
		return nil, fmt.Errorf("decode urls for %s: %w", b.ID, err)
	}
	b.ArchivePath = stringPtr(archivePath)
	b.ArchiveURL = stringPtr(archiveURL)
	b.ErrorMessage = stringPtr(errMsg)
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	b.CompletedAt = completedAt.ptr()
	return &b, nil
}
