package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/scriptgen/backend/internal/db"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/transcript"
)

const DefaultPageSize = 100

// ScriptView is the API shape of a script record.
type ScriptView struct {
	ID               string                        `json:"id"`
	VideoURL         string                        `json:"video_url"`
	VideoTitle       *string                       `json:"video_title"`
	VideoDuration    *int                          `json:"video_duration"`
	Status           string                        `json:"status"`
	TranscriptText   *string                       `json:"transcript_text,omitempty"`
	Segments         []transcript.FormattedSegment `json:"formatted_transcript,omitempty"`
	DetectedLanguage *string                       `json:"detected_language,omitempty"`
	ErrorMessage     *string                       `json:"error_message,omitempty"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
	CompletedAt      *time.Time                    `json:"completed_at,omitempty"`
}

func NewScriptView(s *db.Script) ScriptView {
	return ScriptView{
		ID:               s.ID,
		VideoURL:         s.SourceURL,
		VideoTitle:       s.Title,
		VideoDuration:    s.DurationSeconds,
		Status:           s.Status,
		TranscriptText:   s.TranscriptText,
		Segments:         s.Segments,
		DetectedLanguage: s.DetectedLanguage,
		ErrorMessage:     s.ErrorMessage,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		CompletedAt:      s.CompletedAt,
	}
}

// ScriptPage is one page of the script listing.
type ScriptPage struct {
	Items []ScriptView `json:"items"`
	Total int          `json:"total"`
	Skip  int          `json:"skip"`
	Limit int          `json:"limit"`
}

// ListScripts returns scripts newest first.
func (s *Service) ListScripts(ctx context.Context, skip, limit int) (*ScriptPage, error) {
	if skip < 0 {
		return nil, apperrors.ValidationError("skip must not be negative")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	scripts, total, err := s.scripts.List(ctx, skip, limit)
	if err != nil {
		return nil, apperrors.PersistenceError("Failed to list scripts").WithCause(err)
	}
	page := &ScriptPage{Items: make([]ScriptView, 0, len(scripts)), Total: total, Skip: skip, Limit: limit}
	for i := range scripts {
		page.Items = append(page.Items, NewScriptView(&scripts[i]))
	}
	return page, nil
}

// GetScript returns a single script.
func (s *Service) GetScript(ctx context.Context, id string) (*db.Script, error) {
	script, err := s.scripts.GetByID(ctx, id)
	if errors.Is(err, db.ErrScriptNotFound) {
		return nil, apperrors.NotFound("script")
	}
	if err != nil {
		return nil, apperrors.PersistenceError("Failed to load script").WithCause(err)
	}
	return script, nil
}

// Export is a rendered transcript ready to be served as a download.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportScript renders a completed script as txt or json.
func (s *Service) ExportScript(ctx context.Context, id, format string) (*Export, error) {
	if format == "" {
		format = "txt"
	}
	if format != "txt" && format != "json" {
		return nil, apperrors.ValidationError("Invalid format. Use 'txt' or 'json'")
	}

	script, err := s.GetScript(ctx, id)
	if err != nil {
		return nil, err
	}
	if script.Status != db.StatusCompleted {
		return nil, apperrors.ValidationError("Script is not completed yet")
	}

	title := script.TitleOr("transcript")
	if format == "txt" {
		return &Export{
			Filename:    transcript.ExportFilename(title, "txt"),
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(transcript.PlainText(script.Segments)),
		}, nil
	}

	info := transcript.VideoInfo{Title: title, URL: script.SourceURL}
	if script.DurationSeconds != nil {
		info.Duration = transcript.FormatDuration(*script.DurationSeconds)
	}
	if script.DetectedLanguage != nil {
		info.Language = *script.DetectedLanguage
	}
	body, err := json.MarshalIndent(transcript.NewDocument(script.Segments, info, time.Now()), "", "  ")
	if err != nil {
		return nil, apperrors.InternalError("Failed to render transcript").WithCause(err)
	}
	return &Export{
		Filename:    transcript.ExportFilename(title, "json"),
		ContentType: "application/json",
		Body:        body,
	}, nil
}
