// Package pipeline executes transcription and batch-download jobs. A runner
// owns its job's durable record and status snapshot for the whole run.
package pipeline

import (
	"context"
	"time"

	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/status"
	"github.com/scriptgen/backend/internal/transcribe"
	"github.com/scriptgen/backend/internal/transcript"
	"github.com/scriptgen/backend/internal/ytdlp"
)

// Phase messages written to the status cache.
const (
	MsgExtracting   = "Extracting video information..."
	MsgDownloading  = "Downloading audio from video..."
	MsgTranscribing = "Transcribing audio using AI..."
	MsgFormatting   = "Formatting transcript..."
	MsgCompleted    = status.MessageCompleted
	MsgFailedPrefix = "Processing failed: "
)

// MediaSource probes and downloads remote media.
type MediaSource interface {
	ExtractMetadata(ctx context.Context, sourceURL string) (*ytdlp.Metadata, error)
	AcquireAudio(ctx context.Context, sourceURL, dir, name string) (string, error)
	AcquireVideo(ctx context.Context, sourceURL, quality, dir, name string) (string, error)
}

// Transcriber converts an audio file into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcribe.Result, error)
}

// ScriptStore is the durable record of transcription jobs.
type ScriptStore interface {
	MarkProcessing(ctx context.Context, id string) error
	SetMetadata(ctx context.Context, id, title string, durationSeconds int) error
	Complete(ctx context.Context, id, text string, segments []transcript.FormattedSegment, language string) error
	Fail(ctx context.Context, id, message string) error
}

// BatchStore is the durable record of batch jobs.
type BatchStore interface {
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id, archivePath, archiveURL string, succeeded, failed int) error
	Fail(ctx context.Context, id, message string, succeeded, failed int) error
}

// TranscriptExporter copies finished transcripts somewhere durable.
type TranscriptExporter interface {
	ExportTranscript(ctx context.Context, jobID string, doc transcript.Document, plainText string) error
}

// ArchivePublisher uploads a finished archive and returns a download URL.
type ArchivePublisher interface {
	PublishArchive(ctx context.Context, localPath, objectName string) (string, error)
}

// Counter receives job outcome counts.
type Counter interface {
	IncCounter(name string)
}

type noopCounter struct{}

func (noopCounter) IncCounter(string) {}

// statusWriter publishes snapshots. Write failures are logged because the
// durable record stays authoritative.
type statusWriter struct {
	store cache.Store
	log   *logger.Logger
	now   func() time.Time
}

func (w statusWriter) put(ctx context.Context, runID, jobID string, state cache.State, progress int, message string, extra map[string]interface{}) {
	snap := &cache.Snapshot{
		RunID:     runID,
		JobID:     jobID,
		Progress:  progress,
		Message:   message,
		State:     state,
		Timestamp: w.now().UTC(),
		Extra:     extra,
	}
	if err := w.store.PutSnapshot(ctx, snap); err != nil {
		w.log.Warn(ctx, "failed to write status snapshot", map[string]interface{}{
			"progress": progress,
			"error":    err.Error(),
		})
	}
}
