package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scriptgen/backend/internal/transcript"
)

// Job lifecycle states shared by scripts and batch jobs.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	ErrScriptNotFound  = errors.New("script not found")
	ErrEmptyTranscript = errors.New("completed transcript must have at least one segment")
)

// Script is the durable record of a single-video transcription job.
type Script struct {
	ID               string
	SourceURL        string
	Title            *string
	DurationSeconds  *int
	Status           string
	TranscriptText   *string
	Segments         []transcript.FormattedSegment
	DetectedLanguage *string
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// IsTerminal reports whether the job has finished.
func (s *Script) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// TitleOr returns the title or fallback when unset.
func (s *Script) TitleOr(fallback string) string {
	if s.Title == nil || *s.Title == "" {
		return fallback
	}
	return *s.Title
}

type ScriptRepository struct {
	db  *DB
	now func() time.Time
}

func NewScriptRepository(db *DB) *ScriptRepository {
	return &ScriptRepository{db: db, now: time.Now}
}

const scriptColumns = `id, source_url, title, duration_seconds, status, transcript_text,
	formatted_segments, detected_language, error_message, created_at, updated_at, completed_at`

// Create inserts a pending record with a fresh id.
func (r *ScriptRepository) Create(ctx context.Context, sourceURL string, title *string) (*Script, error) {
	now := r.now().UTC()
	s := &Script{
		ID:        uuid.New().String(),
		SourceURL: sourceURL,
		Title:     title,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.exec(ctx, `
		INSERT INTO scripts (id, source_url, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.SourceURL, nullableString(title), s.Status, timestamp(now), timestamp(now))
	if err != nil {
		return nil, fmt.Errorf("insert script: %w", err)
	}
	return s, nil
}

func (r *ScriptRepository) GetByID(ctx context.Context, id string) (*Script, error) {
	row := r.db.queryRow(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = ?`, id)
	s, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScriptNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns scripts newest first along with the total count.
func (r *ScriptRepository) List(ctx context.Context, skip, limit int) ([]Script, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if skip < 0 {
		skip = 0
	}

	var total int
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM scripts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scripts: %w", err)
	}

	rows, err := r.db.query(ctx, `
		SELECT `+scriptColumns+`
		FROM scripts
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	scripts := []Script{}
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, 0, err
		}
		scripts = append(scripts, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return scripts, total, nil
}

// MarkProcessing moves a pending or retried job into processing.
func (r *ScriptRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE scripts
		SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusProcessing, timestamp(r.now()), id)
}

// SetMetadata records what the metadata probe learned. The source URL is
// never rewritten.
func (r *ScriptRepository) SetMetadata(ctx context.Context, id, title string, durationSeconds int) error {
	var titleArg, durationArg any
	if title != "" {
		titleArg = title
	}
	if durationSeconds > 0 {
		durationArg = durationSeconds
	}
	return r.update(ctx, `
		UPDATE scripts
		SET title = COALESCE(?, title), duration_seconds = COALESCE(?, duration_seconds), updated_at = ?
		WHERE id = ?
	`, titleArg, durationArg, timestamp(r.now()), id)
}

// Complete stores the transcript and closes the job.
func (r *ScriptRepository) Complete(ctx context.Context, id, text string, segments []transcript.FormattedSegment, language string) error {
	if len(segments) == 0 {
		return ErrEmptyTranscript
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	var langArg any
	if language != "" {
		langArg = language
	}
	now := timestamp(r.now())
	return r.update(ctx, `
		UPDATE scripts
		SET status = ?, transcript_text = ?, formatted_segments = ?, detected_language = ?,
			error_message = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, text, string(data), langArg, now, now, id)
}

// Fail closes the job with an error and clears any partial transcript.
func (r *ScriptRepository) Fail(ctx context.Context, id, message string) error {
	now := timestamp(r.now())
	return r.update(ctx, `
		UPDATE scripts
		SET status = ?, error_message = ?, transcript_text = NULL, formatted_segments = NULL,
			completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusFailed, message, now, now, id)
}

func (r *ScriptRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update script: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrScriptNotFound
	}
	return nil
}

func scanScript(scanner interface{ Scan(dest ...any) error }) (*Script, error) {
	var (
		s           Script
		title       sql.NullString
		duration    sql.NullInt64
		text        sql.NullString
		segments    sql.NullString
		language    sql.NullString
		errMsg      sql.NullString
		createdAt   nullTime
		updatedAt   nullTime
		completedAt nullTime
	)
	if err := scanner.Scan(
		&s.ID, &s.SourceURL, &title, &duration, &s.Status, &text,
		&segments, &language, &errMsg, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	s.Title = stringPtr(title)
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	s.TranscriptText = stringPtr(text)
	s.DetectedLanguage = stringPtr(language)
	s.ErrorMessage = stringPtr(errMsg)
	s.CreatedAt = createdAt.Time
	s.UpdatedAt = updatedAt.Time
	s.CompletedAt = completedAt.ptr()

	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &s.Segments); err != nil {
			return nil, fmt.Errorf("decode segments for %s: %w", s.ID, err)
		}
	}
	return &s, nil
}
