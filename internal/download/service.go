package download

import (
	"context"
	"fmt"

	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/pipeline"
)

// TranscriptionRunner executes single-video tasks.
type TranscriptionRunner interface {
	Run(ctx context.Context, task pipeline.TranscriptionTask) error
}

// BatchRunner executes batch-download tasks.
type BatchRunner interface {
	Run(ctx context.Context, task pipeline.BatchTask) (string, error)
}

// VideoRunner executes single-video download tasks.
type VideoRunner interface {
	Run(ctx context.Context, task pipeline.VideoTask) (string, error)
}

// Dispatch routes a queued task to the runner for its kind.
func Dispatch(transcription TranscriptionRunner, batch BatchRunner, video VideoRunner) Processor {
	return func(ctx context.Context, task *Task) error {
		switch task.Kind {
		case cache.KindTranscription:
			return transcription.Run(ctx, pipeline.TranscriptionTask{
				JobID:     task.JobID,
				RunID:     task.ID,
				SourceURL: task.URL,
			})
		case cache.KindBatch:
			_, err := batch.Run(ctx, pipeline.BatchTask{
				JobID:   task.JobID,
				RunID:   task.ID,
				URLs:    task.URLs,
				Quality: task.Quality,
			})
			return err
		case cache.KindVideo:
			_, err := video.Run(ctx, pipeline.VideoTask{
				JobID:     task.JobID,
				RunID:     task.ID,
				SourceURL: task.URL,
				Quality:   task.Quality,
			})
			return err
		default:
			return apperrors.BadRequest(fmt.Sprintf("unknown task kind %q", task.Kind))
		}
	}
}

// Service owns the queue and the worker pool draining it
type Service struct {
	queue      *Queue
	workerPool *WorkerPool
	log        *logger.Logger
}

// ServiceConfig holds configuration for the download service
type ServiceConfig struct {
	Pool *WorkerPoolConfig
}

// NewService builds a service on an existing queue
func NewService(queue *Queue, processor Processor, config *ServiceConfig) *Service {
	var poolCfg *WorkerPoolConfig
	if config != nil {
		poolCfg = config.Pool
	}
	log := logger.Default()
	if poolCfg != nil && poolCfg.Logger != nil {
		log = poolCfg.Logger
	}
	return &Service{
		queue:      queue,
		workerPool: NewWorkerPool(queue, processor, poolCfg),
		log:        log,
	}
}

// Start starts the worker pool
func (s *Service) Start() {
	s.workerPool.Start()
}

// Stop gracefully stops the service
func (s *Service) Stop(ctx context.Context) error {
	if err := s.workerPool.Stop(ctx); err != nil {
		s.log.Error(ctx, "worker pool stop error", err)
	}
	return s.queue.Close()
}

// Queue returns the underlying task queue
func (s *Service) Queue() *Queue {
	return s.queue
}

// IsRunning returns whether the worker pool is running
func (s *Service) IsRunning() bool {
	return s.workerPool.IsRunning()
}
