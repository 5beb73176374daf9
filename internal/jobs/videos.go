package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/scriptgen/backend/internal/archive"
	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/download"
	apperrors "github.com/scriptgen/backend/internal/errors"
)

const MessageVideoStarted = "Video download started"

// VideoFetcher downloads a video file into dir.
type VideoFetcher interface {
	AcquireVideo(ctx context.Context, sourceURL, quality, dir, name string) (string, error)
}

// SubmitVideo queues a single-video download. The job is recorded as a
// one-item batch so status and file lookups share the batch routes.
func (s *Service) SubmitVideo(ctx context.Context, sourceURL, quality string) (*Submission, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	quality, err := normalizeQuality(quality)
	if err != nil {
		return nil, err
	}
	if _, err := s.inspect(ctx, sourceURL); err != nil {
		return nil, err
	}

	job, err := s.batches.Create(ctx, []string{sourceURL}, quality)
	if err != nil {
		return nil, apperrors.PersistenceError("Failed to create download job").WithCause(err)
	}

	runID := s.newRunID()
	s.associate(ctx, runID, job.ID, cache.KindVideo)

	_, err = s.queue.Enqueue(ctx, &download.Task{
		ID:      runID,
		Kind:    cache.KindVideo,
		JobID:   job.ID,
		URL:     sourceURL,
		Quality: quality,
	})
	if err != nil {
		s.abandon(ctx, func(c context.Context) error { return s.batches.Fail(c, job.ID, "Failed to queue job", 0, 0) })
		return nil, apperrors.QueueError("Failed to queue video download").WithCause(err)
	}

	s.log.Info(ctx, "video download submitted", map[string]interface{}{
		"download_id": job.ID,
		"task_id":     runID,
		"quality":     quality,
	})
	return &Submission{
		TaskID:   runID,
		Status:   "processing",
		Progress: 0,
		Message:  MessageVideoStarted,
		BatchID:  job.ID,
	}, nil
}

// DownloadedFile is a finished download ready to be served.
type DownloadedFile struct {
	Path        string
	Filename    string
	ContentType string
}

// DownloadFile resolves runID to its zip or video on local disk,
// preferring the live snapshot and falling back to the batch record.
func (s *Service) DownloadFile(ctx context.Context, runID string) (*DownloadedFile, error) {
	path := ""
	if snap, err := s.status.GetSnapshot(ctx, runID); err == nil && snap != nil && snap.State == cache.StateSuccess {
		if p, ok := snap.Extra["file_path"].(string); ok {
			path = p
		}
	}

	if path == "" {
		assoc, err := s.status.GetAssociation(ctx, runID)
		if err != nil || assoc == nil || !assoc.Kind.Download() {
			return nil, apperrors.JobNotFound()
		}
		batch, err := s.batches.GetByID(ctx, assoc.JobID)
		if errors.Is(err, db.ErrBatchNotFound) {
			return nil, apperrors.JobNotFound()
		}
		if err != nil {
			return nil, apperrors.PersistenceError("Failed to load download job").WithCause(err)
		}
		if batch.Status != db.StatusCompleted || batch.ArchivePath == nil {
			return nil, apperrors.NotReady("Download is not ready yet")
		}
		path = *batch.ArchivePath
	}

	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.NotFound(fmt.Sprintf("file %s", filepath.Base(path)))
	}
	return &DownloadedFile{Path: path, Filename: filepath.Base(path), ContentType: ContentType(path)}, nil
}

// ContentType picks the response type for a downloaded file.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return "application/zip"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}

// VideoFile is a video fetched for a single response. Remove deletes it.
type VideoFile struct {
	DownloadedFile
	dir string
}

func (v *VideoFile) Remove() error {
	return os.RemoveAll(v.dir)
}

// FetchVideo downloads sourceURL while the caller waits.
func (s *Service) FetchVideo(ctx context.Context, sourceURL, quality string) (*VideoFile, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	quality, err := normalizeQuality(quality)
	if err != nil {
		return nil, err
	}
	meta, err := s.inspect(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, sourceURL, quality, archive.SanitizeTitle(meta.Title))
}

// FetchScriptVideo downloads the best-quality video behind a script.
func (s *Service) FetchScriptVideo(ctx context.Context, scriptID string) (*VideoFile, error) {
	script, err := s.GetScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, script.SourceURL, DefaultQuality, archive.SanitizeTitle(script.TitleOr("video")))
}

func (s *Service) fetch(ctx context.Context, sourceURL, quality, base string) (*VideoFile, error) {
	if s.media == nil {
		return nil, apperrors.InternalError("video downloads are not configured")
	}
	dir := filepath.Join(s.workDir, "direct_"+uuid.NewString())
	local, err := s.media.AcquireVideo(ctx, sourceURL, quality, dir, "video")
	if err != nil {
		os.RemoveAll(dir)
		return nil, apperrors.AcquisitionError(fmt.Sprintf("Failed to download video: %v", err)).WithCause(err)
	}
	s.log.Info(ctx, "video fetched", map[string]interface{}{"url": sourceURL, "quality": quality})
	return &VideoFile{
		DownloadedFile: DownloadedFile{
			Path:        local,
			Filename:    base + filepath.Ext(local),
			ContentType: ContentType(local),
		},
		dir: dir,
	}, nil
}
