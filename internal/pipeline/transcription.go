package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/fileutil"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/transcript"
)

// TranscriptionTask identifies one single-video run.
type TranscriptionTask struct {
	JobID     string
	RunID     string
	SourceURL string
}

// TranscriptionRunnerConfig wires a TranscriptionRunner.
type TranscriptionRunnerConfig struct {
	Media    MediaSource
	Engine   Transcriber
	Scripts  ScriptStore
	Status   cache.Store
	Exporter TranscriptExporter
	Counter  Counter
	WorkDir  string
	Logger   *logger.Logger
}

// TranscriptionRunner drives a single video through acquire, transcribe,
// format and persist, reporting fixed checkpoints along the way.
type TranscriptionRunner struct {
	media    MediaSource
	engine   Transcriber
	scripts  ScriptStore
	status   statusWriter
	exporter TranscriptExporter
	counter  Counter
	workDir  string
	log      *logger.Logger
	now      func() time.Time
}

func NewTranscriptionRunner(cfg TranscriptionRunnerConfig) *TranscriptionRunner {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("pipeline.transcription")
	counter := cfg.Counter
	if counter == nil {
		counter = noopCounter{}
	}
	return &TranscriptionRunner{
		media:    cfg.Media,
		engine:   cfg.Engine,
		scripts:  cfg.Scripts,
		status:   statusWriter{store: cfg.Status, log: log, now: time.Now},
		exporter: cfg.Exporter,
		counter:  counter,
		workDir:  cfg.WorkDir,
		log:      log,
		now:      time.Now,
	}
}

// Run executes the job. Any failure is written to the record and the
// snapshot before it is returned.
func (r *TranscriptionRunner) Run(ctx context.Context, task TranscriptionTask) (err error) {
	log := r.log.With(map[string]interface{}{"job_id": task.JobID, "run_id": task.RunID})
	scope := fileutil.NewScope(log)
	defer scope.Close(context.WithoutCancel(ctx))
	defer func() {
		if p := recover(); p != nil {
			err = r.fail(ctx, log, task, apperrors.InternalError(fmt.Sprintf("unexpected panic: %v", p)))
		}
	}()

	r.counter.IncCounter("transcription_jobs_started")
	started := r.now()
	log.Info(ctx, "transcription started", map[string]interface{}{"url": task.SourceURL})

	r.checkpoint(ctx, task, 10, MsgExtracting)
	if err := r.scripts.MarkProcessing(ctx, task.JobID); err != nil {
		return r.fail(ctx, log, task, apperrors.PersistenceError("Failed to update job status").WithCause(err))
	}
	meta, err := r.media.ExtractMetadata(ctx, task.SourceURL)
	if err != nil {
		return r.fail(ctx, log, task, apperrors.AcquisitionError(fmt.Sprintf("Failed to extract video info: %v", err)).WithCause(err))
	}

	if err := r.scripts.SetMetadata(ctx, task.JobID, meta.Title, meta.DurationSeconds()); err != nil {
		return r.fail(ctx, log, task, apperrors.PersistenceError("Failed to store video metadata").WithCause(err))
	}
	r.checkpoint(ctx, task, 20, MsgDownloading)

	runDir := filepath.Join(r.workDir, "run_"+task.RunID)
	scope.Track(runDir)
	audioPath, err := r.media.AcquireAudio(ctx, task.SourceURL, runDir, task.RunID)
	if err != nil {
		return r.fail(ctx, log, task, apperrors.AcquisitionError(fmt.Sprintf("Failed to download audio: %v", err)).WithCause(err))
	}
	scope.Track(audioPath)

	r.checkpoint(ctx, task, 50, MsgTranscribing)
	result, err := r.engine.Transcribe(ctx, audioPath)
	if err != nil {
		return r.fail(ctx, log, task, apperrors.TranscriptionError(fmt.Sprintf("Transcription failed: %v", err)).WithCause(err))
	}

	r.checkpoint(ctx, task, 80, MsgFormatting)
	segments := transcript.Format(result.Segments)
	if len(segments) == 0 {
		return r.fail(ctx, log, task, apperrors.TranscriptionError("Transcription failed: no speech detected"))
	}

	if err := r.scripts.Complete(ctx, task.JobID, result.FullText, segments, result.Language); err != nil {
		return r.fail(ctx, log, task, apperrors.PersistenceError("Failed to store transcript").WithCause(err))
	}
	r.status.put(ctx, task.RunID, task.JobID, cache.StateSuccess, 100, MsgCompleted, map[string]interface{}{
		"title":         meta.Title,
		"segment_count": len(segments),
		"language":      result.Language,
	})
	r.counter.IncCounter("transcription_jobs_completed")

	if r.exporter != nil {
		doc := transcript.NewDocument(segments, transcript.VideoInfo{
			Title:    meta.Title,
			URL:      task.SourceURL,
			Duration: transcript.FormatDuration(meta.DurationSeconds()),
			Language: result.Language,
		}, r.now())
		if err := r.exporter.ExportTranscript(ctx, task.JobID, doc, transcript.PlainText(segments)); err != nil {
			log.Warn(ctx, "transcript export failed", map[string]interface{}{"error": err.Error()})
		}
	}

	log.Info(ctx, "transcription completed", map[string]interface{}{
		"segments":    len(segments),
		"duration_ms": r.now().Sub(started).Milliseconds(),
	})
	return nil
}

func (r *TranscriptionRunner) checkpoint(ctx context.Context, task TranscriptionTask, progress int, message string) {
	r.status.put(ctx, task.RunID, task.JobID, cache.StateProgress, progress, message, nil)
}

// fail records a terminal error in both stores. Writes use a context that
// survives the job deadline so timeouts are still recorded.
func (r *TranscriptionRunner) fail(ctx context.Context, log *logger.Logger, task TranscriptionTask, appErr *apperrors.AppError) error {
	writeCtx := context.WithoutCancel(ctx)
	if err := r.scripts.Fail(writeCtx, task.JobID, appErr.Message); err != nil {
		log.Error(writeCtx, "failed to record job failure", err)
	}
	r.status.put(writeCtx, task.RunID, task.JobID, cache.StateFailure, 0, MsgFailedPrefix+appErr.Message, map[string]interface{}{
		"error": appErr.Message,
	})
	r.counter.IncCounter("transcription_jobs_failed")
	log.Error(writeCtx, "transcription failed", appErr)
	return appErr
}
