// Package jobs accepts transcription and download requests, turns
// them into durable records plus queued tasks, and answers queries about
// finished scripts.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/download"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/validators"
	"github.com/scriptgen/backend/internal/ytdlp"
)

const (
	MaxBatchSize   = 10
	DefaultQuality = "best"
	probeCacheTTL  = time.Hour

	MessageStarted = "Video processing started"
)

// SupportedQualities lists the accepted batch quality presets.
var SupportedQualities = []string{"best", "720p", "480p", "worst"}

// MetadataProbe confirms a video is reachable before a job is created.
type MetadataProbe interface {
	ExtractMetadata(ctx context.Context, sourceURL string) (*ytdlp.Metadata, error)
}

// ProbeCache stores probe results keyed by canonical URL.
type ProbeCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Enqueuer hands tasks to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *download.Task) (*download.Task, error)
}

type ScriptRepository interface {
	Create(ctx context.Context, sourceURL string, title *string) (*db.Script, error)
	GetByID(ctx context.Context, id string) (*db.Script, error)
	List(ctx context.Context, skip, limit int) ([]db.Script, int, error)
	Fail(ctx context.Context, id, message string) error
}

type BatchRepository interface {
	Create(ctx context.Context, urls []string, quality string) (*db.BatchJob, error)
	GetByID(ctx context.Context, id string) (*db.BatchJob, error)
	Fail(ctx context.Context, id, message string, succeeded, failed int) error
}

// Submission is returned to the client when a job is accepted.
type Submission struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	ScriptID string `json:"script_id,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
}

// Config wires a Service. ProbeCache is optional; Media is needed only for
// downloads served in the request.
type Config struct {
	Validators *validators.Registry
	Probe      MetadataProbe
	ProbeCache ProbeCache
	Media      VideoFetcher
	WorkDir    string
	Scripts    ScriptRepository
	Batches    BatchRepository
	Status     cache.Store
	Queue      Enqueuer
	Logger     *logger.Logger
}

type Service struct {
	validators *validators.Registry
	probe      MetadataProbe
	probeCache ProbeCache
	media      VideoFetcher
	workDir    string
	scripts    ScriptRepository
	batches    BatchRepository
	status     cache.Store
	queue      Enqueuer
	log        *logger.Logger
	probeRetry *apperrors.RetryConfig
	newRunID   func() string
}

func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	registry := cfg.Validators
	if registry == nil {
		registry = validators.DefaultRegistry()
	}
	return &Service{
		validators: registry,
		probe:      cfg.Probe,
		probeCache: cfg.ProbeCache,
		media:      cfg.Media,
		workDir:    cfg.WorkDir,
		scripts:    cfg.Scripts,
		batches:    cfg.Batches,
		status:     cfg.Status,
		queue:      cfg.Queue,
		log:        log.WithComponent("jobs"),
		probeRetry: apperrors.ProbeRetryConfig(),
		newRunID:   uuid.NewString,
	}
}

// SubmitTranscription validates sourceURL, records a pending script and
// queues its run.
func (s *Service) SubmitTranscription(ctx context.Context, sourceURL string) (*Submission, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	meta, err := s.inspect(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	var title *string
	if meta.Title != "" {
		title = &meta.Title
	}
	script, err := s.scripts.Create(ctx, sourceURL, title)
	if err != nil {
		return nil, apperrors.PersistenceError("Failed to create script").WithCause(err)
	}

	runID := s.newRunID()
	s.associate(ctx, runID, script.ID, cache.KindTranscription)

	_, err = s.queue.Enqueue(ctx, &download.Task{
		ID:    runID,
		Kind:  cache.KindTranscription,
		JobID: script.ID,
		URL:   sourceURL,
	})
	if err != nil {
		s.abandon(ctx, func(c context.Context) error { return s.scripts.Fail(c, script.ID, "Failed to queue job") })
		return nil, apperrors.QueueError("Failed to queue transcription").WithCause(err)
	}

	s.log.Info(ctx, "transcription submitted", map[string]interface{}{
		"script_id": script.ID,
		"task_id":   runID,
	})
	return &Submission{
		TaskID:   runID,
		Status:   "processing",
		Progress: 0,
		Message:  MessageStarted,
		ScriptID: script.ID,
	}, nil
}

// SubmitBatch validates every URL up front so a batch is accepted or
// rejected as a whole.
func (s *Service) SubmitBatch(ctx context.Context, urls []string, quality string) (*Submission, error) {
	if len(urls) == 0 {
		return nil, apperrors.ValidationError("No URLs provided")
	}
	if len(urls) > MaxBatchSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("Maximum %d videos can be downloaded at once", MaxBatchSize))
	}
	quality, err := normalizeQuality(quality)
	if err != nil {
		return nil, err
	}

	cleaned := make([]string, len(urls))
	for i, u := range urls {
		cleaned[i] = strings.TrimSpace(u)
		if _, err := s.inspect(ctx, cleaned[i]); err != nil {
			if appErr, ok := apperrors.As(err); ok {
				return nil, apperrors.ValidationError(fmt.Sprintf("Invalid URL %s: %s", cleaned[i], appErr.Message))
			}
			return nil, err
		}
	}

	batch, err := s.batches.Create(ctx, cleaned, quality)
	if err != nil {
		return nil, apperrors.PersistenceError("Failed to create batch job").WithCause(err)
	}

	runID := s.newRunID()
	s.associate(ctx, runID, batch.ID, cache.KindBatch)

	_, err = s.queue.Enqueue(ctx, &download.Task{
		ID:      runID,
		Kind:    cache.KindBatch,
		JobID:   batch.ID,
		URLs:    cleaned,
		Quality: quality,
	})
	if err != nil {
		s.abandon(ctx, func(c context.Context) error { return s.batches.Fail(c, batch.ID, "Failed to queue job", 0, 0) })
		return nil, apperrors.QueueError("Failed to queue batch download").WithCause(err)
	}

	s.log.Info(ctx, "batch submitted", map[string]interface{}{
		"batch_id": batch.ID,
		"task_id":  runID,
		"videos":   len(cleaned),
	})
	return &Submission{
		TaskID:   runID,
		Status:   "processing",
		Progress: 0,
		Message:  fmt.Sprintf("Starting download of %d videos", len(cleaned)),
		BatchID:  batch.ID,
	}, nil
}

// inspect runs the validator registry and then probes the video.
func (s *Service) inspect(ctx context.Context, sourceURL string) (*ytdlp.Metadata, error) {
	res, err := s.validators.Check(sourceURL)
	if err != nil {
		return nil, err
	}

	key := "probe:" + res.Canonical
	if s.probeCache != nil {
		if raw, ok := s.probeCache.Get(ctx, key); ok {
			var meta ytdlp.Metadata
			if json.Unmarshal([]byte(raw), &meta) == nil {
				return &meta, nil
			}
		}
	}

	meta, err := apperrors.RetryWithResult(ctx, s.probeRetry, func(ctx context.Context) (*ytdlp.Metadata, error) {
		return s.probe.ExtractMetadata(ctx, sourceURL)
	})
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("Invalid video URL or video not accessible: %v", err)).WithCause(err)
	}

	if s.probeCache != nil {
		if data, err := json.Marshal(meta); err == nil {
			if err := s.probeCache.Set(ctx, key, string(data), probeCacheTTL); err != nil {
				s.log.Debug(ctx, "probe cache write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return meta, nil
}

// associate links runID to its job; a failed write only weakens status
// fallbacks, so it is logged.
func (s *Service) associate(ctx context.Context, runID, jobID string, kind cache.Kind) {
	err := s.status.PutAssociation(ctx, &cache.Association{RunID: runID, JobID: jobID, Kind: kind})
	if err != nil {
		s.log.Warn(ctx, "failed to write run association", map[string]interface{}{
			"task_id": runID,
			"error":   err.Error(),
		})
	}
}

func (s *Service) abandon(ctx context.Context, fail func(context.Context) error) {
	if err := fail(context.WithoutCancel(ctx)); err != nil {
		s.log.Error(ctx, "failed to mark unqueued job failed", err)
	}
}

func normalizeQuality(q string) (string, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return DefaultQuality, nil
	}
	for _, ok := range SupportedQualities {
		if q == ok {
			return q, nil
		}
	}
	return "", apperrors.ValidationError(fmt.Sprintf("unsupported quality %q, expected one of %s", q, strings.Join(SupportedQualities, ", ")))
}
