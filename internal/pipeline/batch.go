package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptgen/backend/internal/archive"
	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/fileutil"
	"github.com/scriptgen/backend/internal/logger"
)

// BatchTask identifies one batch-download run.
type BatchTask struct {
	JobID   string
	RunID   string
	URLs    []string
	Quality string
}

// BatchRunnerConfig wires a BatchRunner.
type BatchRunnerConfig struct {
	Media      MediaSource
	Batches    BatchStore
	Status     cache.Store
	Publisher  ArchivePublisher
	Counter    Counter
	WorkDir    string
	ArchiveDir string
	// DownloadURL builds the link reported for a locally served archive.
	DownloadURL func(runID string) string
	Logger      *logger.Logger
}

// BatchRunner downloads every URL of a batch, isolating per-item failures,
// and bundles the successes into one archive.
type BatchRunner struct {
	media       MediaSource
	batches     BatchStore
	status      statusWriter
	publisher   ArchivePublisher
	counter     Counter
	workDir     string
	archiveDir  string
	downloadURL func(string) string
	log         *logger.Logger
	now         func() time.Time
	newBatchID  func() string
}

func NewBatchRunner(cfg BatchRunnerConfig) *BatchRunner {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("pipeline.batch")
	counter := cfg.Counter
	if counter == nil {
		counter = noopCounter{}
	}
	downloadURL := cfg.DownloadURL
	if downloadURL == nil {
		downloadURL = func(runID string) string { return "/api/v1/download/file/" + runID }
	}
	return &BatchRunner{
		media:       cfg.Media,
		batches:     cfg.Batches,
		status:      statusWriter{store: cfg.Status, log: log, now: time.Now},
		publisher:   cfg.Publisher,
		counter:     counter,
		workDir:     cfg.WorkDir,
		archiveDir:  cfg.ArchiveDir,
		downloadURL: downloadURL,
		log:         log,
		now:         time.Now,
		newBatchID:  shortID,
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// BatchProgress maps completed items onto the 5..95 band.
func BatchProgress(completed, total int) int {
	if total <= 0 {
		return 95
	}
	return 5 + (90*completed)/total
}

// Run downloads and archives the batch and returns the archive path.
func (r *BatchRunner) Run(ctx context.Context, task BatchTask) (archivePath string, err error) {
	batchID := r.newBatchID()
	log := r.log.With(map[string]interface{}{
		"job_id":   task.JobID,
		"run_id":   task.RunID,
		"batch_id": batchID,
	})
	total := len(task.URLs)
	manifest := archive.NewManifest(batchID, task.Quality, task.URLs, r.now())

	scope := fileutil.NewScope(log)
	workDir := filepath.Join(r.workDir, "batch_"+batchID)
	scope.Track(workDir)
	defer scope.Close(context.WithoutCancel(ctx))
	defer func() {
		if p := recover(); p != nil {
			archivePath = ""
			err = r.fail(ctx, log, task, manifest, apperrors.InternalError(fmt.Sprintf("unexpected panic: %v", p)))
		}
	}()

	r.counter.IncCounter("batch_jobs_started")
	log.Info(ctx, "batch started", map[string]interface{}{"videos": total, "quality": task.Quality})
	r.status.put(ctx, task.RunID, task.JobID, cache.StateProgress, 5, fmt.Sprintf("Starting download of %d videos", total), nil)

	if err := r.batches.MarkProcessing(ctx, task.JobID); err != nil {
		return "", r.fail(ctx, log, task, manifest, apperrors.PersistenceError("Failed to update job status").WithCause(err))
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", r.fail(ctx, log, task, manifest, apperrors.InternalError("Failed to prepare working directory").WithCause(err))
	}

	for i, sourceURL := range task.URLs {
		if ctx.Err() != nil {
			return "", r.fail(ctx, log, task, manifest, apperrors.ExternalTimeout("batch download").WithCause(ctx.Err()))
		}
		index := i + 1
		title, err := r.downloadItem(ctx, task, manifest, i, workDir)
		message := fmt.Sprintf("Downloaded %d/%d: %s", index, total, title)
		if err != nil {
			manifest.Fail(i, err)
			r.counter.IncCounter("batch_items_failed")
			log.Warn(ctx, "batch item failed", map[string]interface{}{
				"index": index,
				"url":   sourceURL,
				"error": err.Error(),
			})
			message = fmt.Sprintf("Failed %d/%d: %s", index, total, sourceURL)
		} else {
			r.counter.IncCounter("batch_items_succeeded")
		}
		r.status.put(ctx, task.RunID, task.JobID, cache.StateProgress, BatchProgress(manifest.Done(), total), message, nil)
	}

	successes := manifest.Successes()
	failed := len(manifest.Failures())
	if len(successes) == 0 {
		return "", r.fail(ctx, log, task, manifest, apperrors.AcquisitionError(fmt.Sprintf("all %d downloads failed", total)))
	}

	r.status.put(ctx, task.RunID, task.JobID, cache.StateProgress, 95, "Creating archive...", nil)
	archivePath, err = r.buildArchive(ctx, scope, manifest, batchID)
	if err != nil {
		return "", r.fail(ctx, log, task, manifest, apperrors.ArchiveError(fmt.Sprintf("Failed to create archive: %v", err)).WithCause(err))
	}

	archiveURL := ""
	if r.publisher != nil {
		url, err := r.publisher.PublishArchive(ctx, archivePath, filepath.Base(archivePath))
		if err != nil {
			log.Warn(ctx, "archive publish failed, serving local copy", map[string]interface{}{"error": err.Error()})
		} else {
			archiveURL = url
		}
	}

	if err := r.batches.Complete(ctx, task.JobID, archivePath, archiveURL, len(successes), failed); err != nil {
		return "", r.fail(ctx, log, task, manifest, apperrors.PersistenceError("Failed to store batch result").WithCause(err))
	}

	downloadURL := archiveURL
	if downloadURL == "" {
		downloadURL = r.downloadURL(task.RunID)
	}
	r.status.put(ctx, task.RunID, task.JobID, cache.StateSuccess, 100, fmt.Sprintf("Downloaded %d of %d videos", len(successes), total), map[string]interface{}{
		"file_path":    archivePath,
		"download_url": downloadURL,
		"succeeded":    len(successes),
		"failed":       failed,
	})
	r.counter.IncCounter("batch_jobs_completed")
	log.Info(ctx, "batch completed", map[string]interface{}{
		"archive":   archivePath,
		"succeeded": len(successes),
		"failed":    failed,
	})
	return archivePath, nil
}

// downloadItem fetches one URL into workDir and records it as a success.
func (r *BatchRunner) downloadItem(ctx context.Context, task BatchTask, manifest *archive.Manifest, i int, workDir string) (string, error) {
	sourceURL := task.URLs[i]
	meta, err := r.media.ExtractMetadata(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	local, err := r.media.AcquireVideo(ctx, sourceURL, task.Quality, workDir, fmt.Sprintf("item_%02d", i+1))
	if err != nil {
		return meta.Title, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return meta.Title, fmt.Errorf("downloaded file missing: %w", err)
	}
	name := archive.ItemFilename(i+1, meta.Title, meta.ID, filepath.Ext(local))
	manifest.Succeed(i, meta.Title, name, local, info.Size())
	return meta.Title, nil
}

// buildArchive writes every success plus the manifest. Payloads are
// released as soon as they are in the archive.
func (r *BatchRunner) buildArchive(ctx context.Context, scope *fileutil.Scope, manifest *archive.Manifest, batchID string) (string, error) {
	path := filepath.Join(r.archiveDir, fmt.Sprintf("videos_%s.zip", batchID))
	w, err := archive.Create(path)
	if err != nil {
		return "", err
	}
	for _, it := range manifest.Successes() {
		if err := w.AddFile(it.LocalPath, it.Filename); err != nil {
			if abortErr := w.Abort(); abortErr != nil {
				r.log.Warn(ctx, "failed to remove partial archive", map[string]interface{}{"path": path, "error": abortErr.Error()})
			}
			return "", err
		}
		scope.Release(ctx, it.LocalPath)
	}
	if err := w.AddBytes(archive.ManifestName, []byte(manifest.Render())); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			r.log.Warn(ctx, "failed to remove partial archive", map[string]interface{}{"path": path, "error": abortErr.Error()})
		}
		return "", err
	}
	if err := w.Close(); err != nil {
		_ = w.Abort()
		return "", err
	}
	return path, nil
}

func (r *BatchRunner) fail(ctx context.Context, log *logger.Logger, task BatchTask, manifest *archive.Manifest, appErr *apperrors.AppError) error {
	writeCtx := context.WithoutCancel(ctx)
	succeeded, failed := len(manifest.Successes()), len(manifest.Failures())
	if err := r.batches.Fail(writeCtx, task.JobID, appErr.Message, succeeded, failed); err != nil {
		log.Error(writeCtx, "failed to record batch failure", err)
	}
	r.status.put(writeCtx, task.RunID, task.JobID, cache.StateFailure, 0, MsgFailedPrefix+appErr.Message, map[string]interface{}{
		"error":  appErr.Message,
		"failed": failed,
	})
	r.counter.IncCounter("batch_jobs_failed")
	log.Error(writeCtx, "batch failed", appErr)
	return appErr
}
