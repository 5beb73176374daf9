package download

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
)

const (
	// Default configuration values
	DefaultWorkerCount = 3
	DefaultMaxRetries  = 3
	DefaultJobTimeout  = 30 * time.Minute

	// Exponential backoff parameters
	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Processor runs one task to completion.
type Processor func(ctx context.Context, task *Task) error

// TaskQueue is the subset of Queue the pool consumes.
type TaskQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateStatus(ctx context.Context, taskID, status, errMsg string) error
	Requeue(ctx context.Context, taskID string) error
	QueueLength(ctx context.Context) (int64, error)
}

// PoolMetrics receives queue depth, task outcome counts and task durations.
type PoolMetrics interface {
	SetQueueLength(length int64)
	IncCounter(name string)
	ObserveTask(kind, outcome string, duration time.Duration)
}

// WorkerPool manages a pool of workers that process queued tasks
type WorkerPool struct {
	queue       TaskQueue
	workerCount int
	maxRetries  int
	jobTimeout  time.Duration
	processor   Processor
	metrics     PoolMetrics
	log         *logger.Logger
	backoff     func(retryCount int) time.Duration
	pollTimeout time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount int
	MaxRetries  int
	JobTimeout  time.Duration
	Metrics     PoolMetrics
	Logger      *logger.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue TaskQueue, processor Processor, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{}
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	log := config.Logger
	if log == nil {
		log = logger.Default()
	}

	return &WorkerPool{
		queue:       queue,
		workerCount: workerCount,
		maxRetries:  maxRetries,
		jobTimeout:  jobTimeout,
		processor:   processor,
		metrics:     config.Metrics,
		log:         log.WithComponent("worker"),
		backoff:     calculateBackoff,
		pollTimeout: defaultBlockTimeout,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true
	wp.stopChan = make(chan struct{})

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.log.Info(context.Background(), "worker pool started", map[string]interface{}{"workers": wp.workerCount})
}

// Stop gracefully stops the worker pool, waiting for current tasks to complete
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	close(wp.stopChan)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Info(ctx, "worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		wp.log.Warn(ctx, "worker pool shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the worker pool is currently running
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	log := wp.log.With(map[string]interface{}{"worker": id})
	for {
		select {
		case <-wp.stopChan:
			log.Debug(context.Background(), "worker stopping")
			return
		default:
			wp.processNextTask(log)
		}
	}
}

// processNextTask dequeues and processes the next available task
func (wp *WorkerPool) processNextTask(log *logger.Logger) {
	ctx := context.Background()

	task, err := wp.queue.Dequeue(ctx, wp.pollTimeout)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) {
			return
		}
		log.Error(ctx, "failed to dequeue task", err)
		wp.sleep(time.Second)
		return
	}

	wp.reportQueueLength(ctx)
	wp.processTask(ctx, log.With(map[string]interface{}{
		"task_id": task.ID,
		"kind":    string(task.Kind),
		"job_id":  task.JobID,
	}), task)
}

// processTask handles the full lifecycle of a single task
func (wp *WorkerPool) processTask(ctx context.Context, log *logger.Logger, task *Task) {
	jobCtx, cancel := context.WithTimeout(ctx, wp.jobTimeout)
	defer cancel()

	if err := wp.queue.UpdateStatus(ctx, task.ID, StatusRunning, ""); err != nil {
		log.Error(ctx, "failed to mark task running", err)
		return
	}

	log.Info(ctx, "processing task", map[string]interface{}{"attempt": task.RetryCount + 1})
	start := time.Now()
	err := wp.runProcessor(jobCtx, task)
	if err != nil {
		wp.observe(task, "failed", time.Since(start))
		wp.handleTaskFailure(ctx, log, task, err)
		return
	}
	wp.observe(task, "completed", time.Since(start))

	if err := wp.queue.UpdateStatus(ctx, task.ID, StatusComplete, ""); err != nil {
		log.Error(ctx, "failed to mark task complete", err)
	}
	wp.count("tasks_completed")
	log.Info(ctx, "task completed")
}

func (wp *WorkerPool) runProcessor(ctx context.Context, task *Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperrors.InternalError("task processor panicked")
		}
	}()
	return wp.processor(ctx, task)
}

// handleTaskFailure requeues retryable failures with exponential backoff.
// Terminal failures have already been recorded by the processor.
func (wp *WorkerPool) handleTaskFailure(ctx context.Context, log *logger.Logger, task *Task, taskErr error) {
	if apperrors.IsClientError(taskErr) {
		// malformed tasks are not server faults
		log.Warn(ctx, "task rejected", map[string]interface{}{"error": taskErr.Error()})
		wp.count("tasks_rejected")
	} else {
		log.Error(ctx, "task failed", taskErr)
	}
	wp.count("tasks_failed")

	if err := wp.queue.UpdateStatus(ctx, task.ID, StatusFailed, taskErr.Error()); err != nil {
		log.Error(ctx, "failed to mark task failed", err)
		return
	}

	if !apperrors.IsRetryable(taskErr) {
		return
	}

	updated, err := wp.queue.GetTask(ctx, task.ID)
	if err != nil {
		log.Error(ctx, "failed to reload task", err)
		return
	}

	if !updated.CanRetry(wp.maxRetries) {
		log.Warn(ctx, "task exceeded max retries", map[string]interface{}{"max_retries": wp.maxRetries})
		return
	}

	backoff := wp.backoff(updated.RetryCount)
	log.Info(ctx, "scheduling retry", map[string]interface{}{
		"backoff_ms": backoff.Milliseconds(),
		"attempt":    updated.RetryCount + 2,
	})
	// a stop cuts the wait short; the task is still requeued for the next worker
	wp.sleep(backoff)

	if err := wp.queue.Requeue(ctx, task.ID); err != nil {
		log.Error(ctx, "failed to requeue task", err)
		return
	}
	wp.count("tasks_retried")
	wp.reportQueueLength(ctx)
}

// sleep waits d unless the pool is stopped first.
func (wp *WorkerPool) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-wp.stopChan:
		return false
	}
}

func (wp *WorkerPool) count(name string) {
	if wp.metrics != nil {
		wp.metrics.IncCounter(name)
	}
}

func (wp *WorkerPool) observe(task *Task, outcome string, d time.Duration) {
	if wp.metrics != nil {
		wp.metrics.ObserveTask(string(task.Kind), outcome, d)
	}
}

func (wp *WorkerPool) reportQueueLength(ctx context.Context) {
	if wp.metrics == nil {
		return
	}
	if n, err := wp.queue.QueueLength(ctx); err == nil {
		wp.metrics.SetQueueLength(n)
	}
}

// calculateBackoff calculates the exponential backoff duration for a given retry count
func calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * baseBackoff
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
