package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scriptgen/backend/internal/archive"
	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/fileutil"
	"github.com/scriptgen/backend/internal/logger"
)

// VideoOutputPrefix starts the name of every single-video output file.
const VideoOutputPrefix = "video_"

const MsgDownloadingVideo = "Downloading video..."

// VideoTask identifies one single-video download run.
type VideoTask struct {
	JobID     string
	RunID     string
	SourceURL string
	Quality   string
}

// VideoRunnerConfig wires a VideoRunner. Jobs are stored as one-item
// batches.
type VideoRunnerConfig struct {
	Media       MediaSource
	Batches     BatchStore
	Status      cache.Store
	Publisher   ArchivePublisher
	Counter     Counter
	WorkDir     string
	OutputDir   string
	DownloadURL func(runID string) string
	Logger      *logger.Logger
}

// VideoRunner downloads one video and keeps it in the output directory.
type VideoRunner struct {
	media       MediaSource
	batches     BatchStore
	status      statusWriter
	publisher   ArchivePublisher
	counter     Counter
	workDir     string
	outputDir   string
	downloadURL func(string) string
	log         *logger.Logger
	newID       func() string
}

func NewVideoRunner(cfg VideoRunnerConfig) *VideoRunner {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("pipeline.video")
	counter := cfg.Counter
	if counter == nil {
		counter = noopCounter{}
	}
	downloadURL := cfg.DownloadURL
	if downloadURL == nil {
		downloadURL = func(runID string) string { return "/api/v1/download/file/" + runID }
	}
	return &VideoRunner{
		media:       cfg.Media,
		batches:     cfg.Batches,
		status:      statusWriter{store: cfg.Status, log: log, now: time.Now},
		publisher:   cfg.Publisher,
		counter:     counter,
		workDir:     cfg.WorkDir,
		outputDir:   cfg.OutputDir,
		downloadURL: downloadURL,
		log:         log,
		newID:       shortID,
	}
}

// Run downloads the video and returns the path of the kept file.
func (r *VideoRunner) Run(ctx context.Context, task VideoTask) (outputPath string, err error) {
	id := r.newID()
	log := r.log.With(map[string]interface{}{"job_id": task.JobID, "run_id": task.RunID})

	scope := fileutil.NewScope(log)
	workDir := filepath.Join(r.workDir, VideoOutputPrefix+id)
	scope.Track(workDir)
	defer scope.Close(context.WithoutCancel(ctx))
	defer func() {
		if p := recover(); p != nil {
			outputPath = ""
			err = r.fail(ctx, log, task, apperrors.InternalError(fmt.Sprintf("unexpected panic: %v", p)))
		}
	}()

	r.counter.IncCounter("video_jobs_started")
	log.Info(ctx, "video download started", map[string]interface{}{"url": task.SourceURL, "quality": task.Quality})

	r.checkpoint(ctx, task, 10, MsgExtracting)
	if err := r.batches.MarkProcessing(ctx, task.JobID); err != nil {
		return "", r.fail(ctx, log, task, apperrors.PersistenceError("Failed to update job status").WithCause(err))
	}
	meta, err := r.media.ExtractMetadata(ctx, task.SourceURL)
	if err != nil {
		return "", r.fail(ctx, log, task, apperrors.AcquisitionError(fmt.Sprintf("Failed to extract video info: %v", err)).WithCause(err))
	}

	r.checkpoint(ctx, task, 20, MsgDownloadingVideo)
	local, err := r.media.AcquireVideo(ctx, task.SourceURL, task.Quality, workDir, "video")
	if err != nil {
		return "", r.fail(ctx, log, task, apperrors.AcquisitionError(fmt.Sprintf("Failed to download video: %v", err)).WithCause(err))
	}
	scope.Track(local)

	r.checkpoint(ctx, task, 90, "Saving video...")
	name := fmt.Sprintf("%s%s_%s%s", VideoOutputPrefix, id, archive.SanitizeTitle(meta.Title), filepath.Ext(local))
	outputPath = filepath.Join(r.outputDir, name)
	if err := fileutil.Move(local, outputPath); err != nil {
		return "", r.fail(ctx, log, task, apperrors.StorageError("Failed to save video").WithCause(err))
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return "", r.fail(ctx, log, task, apperrors.StorageError("Failed to save video").WithCause(err))
	}

	publicURL := ""
	if r.publisher != nil {
		url, err := r.publisher.PublishArchive(ctx, outputPath, name)
		if err != nil {
			log.Warn(ctx, "video publish failed, serving local copy", map[string]interface{}{"error": err.Error()})
		} else {
			publicURL = url
		}
	}

	if err := r.batches.Complete(ctx, task.JobID, outputPath, publicURL, 1, 0); err != nil {
		os.Remove(outputPath)
		return "", r.fail(ctx, log, task, apperrors.PersistenceError("Failed to store download result").WithCause(err))
	}

	downloadURL := publicURL
	if downloadURL == "" {
		downloadURL = r.downloadURL(task.RunID)
	}
	r.status.put(ctx, task.RunID, task.JobID, cache.StateSuccess, 100, "Video download completed", map[string]interface{}{
		"file_path":    outputPath,
		"download_url": downloadURL,
		"title":        meta.Title,
		"size":         info.Size(),
	})
	r.counter.IncCounter("video_jobs_completed")
	log.Info(ctx, "video download completed", map[string]interface{}{"path": outputPath, "bytes": info.Size()})
	return outputPath, nil
}

func (r *VideoRunner) checkpoint(ctx context.Context, task VideoTask, progress int, message string) {
	r.status.put(ctx, task.RunID, task.JobID, cache.StateProgress, progress, message, nil)
}

func (r *VideoRunner) fail(ctx context.Context, log *logger.Logger, task VideoTask, appErr *apperrors.AppError) error {
	writeCtx := context.WithoutCancel(ctx)
	if err := r.batches.Fail(writeCtx, task.JobID, appErr.Message, 0, 1); err != nil {
		log.Error(writeCtx, "failed to record download failure", err)
	}
	r.status.put(writeCtx, task.RunID, task.JobID, cache.StateFailure, 0, MsgFailedPrefix+appErr.Message, map[string]interface{}{
		"error": appErr.Message,
	})
	r.counter.IncCounter("video_jobs_failed")
	log.Error(writeCtx, "video download failed", appErr)
	return appErr
}
