package download

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/pipeline"
)

// memQueue is an in-process TaskQueue.
type memQueue struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	pending chan string
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: make(map[string]*Task), pending: make(chan string, 64)}
}

func (q *memQueue) add(task *Task) {
	task.Status = StatusQueued
	q.mu.Lock()
	q.tasks[task.ID] = task
	q.mu.Unlock()
	q.pending <- task.ID
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	select {
	case id := <-q.pending:
		return q.GetTask(ctx, id)
	case <-time.After(timeout):
		return nil, ErrQueueEmpty
	}
}

func (q *memQueue) GetTask(_ context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (q *memQueue) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = status
	task.Error = errMsg
	return nil
}

func (q *memQueue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	task := q.tasks[id]
	task.RetryCount++
	task.Status = StatusQueued
	q.mu.Unlock()
	q.pending <- id
	return nil
}

func (q *memQueue) QueueLength(context.Context) (int64, error) {
	return int64(len(q.pending)), nil
}

func (q *memQueue) status(id string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[id].Status
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	length   int64
	observed []string
}

func (m *countingMetrics) ObserveTask(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	m.observed = append(m.observed, kind+":"+outcome)
	m.mu.Unlock()
}

func (m *countingMetrics) SetQueueLength(n int64) {
	m.mu.Lock()
	m.length = n
	m.mu.Unlock()
}

func (m *countingMetrics) IncCounter(name string) {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = map[string]int{}
	}
	m.counters[name]++
	m.mu.Unlock()
}

func newTestPool(queue TaskQueue, processor Processor, metrics PoolMetrics) *WorkerPool {
	pool := NewWorkerPool(queue, processor, &WorkerPoolConfig{
		WorkerCount: 1,
		MaxRetries:  3,
		JobTimeout:  time.Minute,
		Metrics:     metrics,
		Logger:      logger.New(&logger.Config{Output: io.Discard}),
	})
	pool.backoff = func(int) time.Duration { return time.Millisecond }
	pool.pollTimeout = 20 * time.Millisecond
	return pool
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func stopPool(t *testing.T, pool *WorkerPool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Errorf("Failed to stop pool: %v", err)
	}
}

func TestWorkerPool_StartStop(t *testing.T) {
	pool := newTestPool(newMemQueue(), func(context.Context, *Task) error { return nil }, nil)

	if pool.IsRunning() {
		t.Error("Pool should not be running before Start()")
	}
	pool.Start()
	if !pool.IsRunning() {
		t.Error("Pool should be running after Start()")
	}

	// Start again should be idempotent
	pool.Start()

	stopPool(t, pool)
	if pool.IsRunning() {
		t.Error("Pool should not be running after Stop()")
	}
}

func TestWorkerPool_ProcessTask(t *testing.T) {
	queue := newMemQueue()
	metrics := &countingMetrics{}
	var processed int32
	pool := newTestPool(queue, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, metrics)

	queue.add(&Task{ID: "run-1", Kind: cache.KindTranscription})
	pool.Start()
	waitFor(t, func() bool { return queue.status("run-1") == StatusComplete })
	stopPool(t, pool)

	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("Expected 1 processed task, got %d", processed)
	}
	if metrics.counters["tasks_completed"] != 1 {
		t.Errorf("Expected tasks_completed=1, got %v", metrics.counters)
	}
	if len(metrics.observed) != 1 || metrics.observed[0] != "transcription:completed" {
		t.Errorf("Expected one transcription:completed observation, got %v", metrics.observed)
	}
}

func TestWorkerPool_RetryGating(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int32
	}{
		{"persistence errors are retried", apperrors.PersistenceError("database is locked"), 4},
		{"untyped errors are terminal", errors.New("connection reset"), 1},
		{"acquisition errors are terminal", apperrors.AcquisitionError("video unavailable"), 1},
		{"transcription errors are terminal", apperrors.TranscriptionError("no speech"), 1},
		{"archive errors are terminal", apperrors.ArchiveError("disk full"), 1},
		{"client errors are terminal", apperrors.BadRequest("unknown kind"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := newMemQueue()
			var attempts int32
			pool := newTestPool(queue, func(context.Context, *Task) error {
				atomic.AddInt32(&attempts, 1)
				return tt.err
			}, nil)

			queue.add(&Task{ID: "run-r", Kind: cache.KindTranscription})
			pool.Start()
			waitFor(t, func() bool { return atomic.LoadInt32(&attempts) >= tt.wantAttempts })
			// give a wrongly scheduled retry the chance to show up
			time.Sleep(50 * time.Millisecond)
			stopPool(t, pool)

			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if queue.status("run-r") != StatusFailed {
				t.Errorf("status = %s, want failed", queue.status("run-r"))
			}
		})
	}
}

func TestWorkerPool_ClientErrorsCountedAsRejected(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantRejected int
	}{
		{"bad request", apperrors.BadRequest("unknown kind"), 1},
		{"validation", apperrors.ValidationError("no URLs"), 1},
		{"acquisition", apperrors.AcquisitionError("video unavailable"), 0},
		{"untyped", errors.New("connection reset"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := newMemQueue()
			metrics := &countingMetrics{}
			pool := newTestPool(queue, func(context.Context, *Task) error { return tt.err }, metrics)

			queue.add(&Task{ID: "run-c", Kind: cache.KindVideo})
			pool.Start()
			waitFor(t, func() bool { return queue.status("run-c") == StatusFailed })
			stopPool(t, pool)

			metrics.mu.Lock()
			defer metrics.mu.Unlock()
			if got := metrics.counters["tasks_rejected"]; got != tt.wantRejected {
				t.Errorf("tasks_rejected = %d, want %d", got, tt.wantRejected)
			}
			if got := metrics.counters["tasks_failed"]; got != 1 {
				t.Errorf("tasks_failed = %d, want 1", got)
			}
		})
	}
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	queue := newMemQueue()
	pool := newTestPool(queue, func(context.Context, *Task) error { panic("boom") }, nil)
	pool.maxRetries = 0

	queue.add(&Task{ID: "run-p", Kind: cache.KindBatch})
	pool.Start()
	waitFor(t, func() bool { return queue.status("run-p") == StatusFailed })
	stopPool(t, pool)
}

type stubTranscription struct{ got pipeline.TranscriptionTask }

func (s *stubTranscription) Run(_ context.Context, task pipeline.TranscriptionTask) error {
	s.got = task
	return nil
}

type stubBatch struct{ got pipeline.BatchTask }

func (s *stubBatch) Run(_ context.Context, task pipeline.BatchTask) (string, error) {
	s.got = task
	return "/tmp/videos_x.zip", nil
}

type stubVideo struct {
	got pipeline.VideoTask
}

func (s *stubVideo) Run(_ context.Context, task pipeline.VideoTask) (string, error) {
	s.got = task
	return "/tmp/video_x.mp4", nil
}

func TestDispatch(t *testing.T) {
	tr, br, vr := &stubTranscription{}, &stubBatch{}, &stubVideo{}
	process := Dispatch(tr, br, vr)
	ctx := context.Background()

	if err := process(ctx, &Task{ID: "run-t", Kind: cache.KindTranscription, JobID: "s-1", URL: "https://youtu.be/a"}); err != nil {
		t.Fatalf("transcription dispatch error = %v", err)
	}
	if tr.got.RunID != "run-t" || tr.got.JobID != "s-1" || tr.got.SourceURL != "https://youtu.be/a" {
		t.Errorf("transcription task = %+v", tr.got)
	}

	if err := process(ctx, &Task{ID: "run-b", Kind: cache.KindBatch, JobID: "b-1", URLs: []string{"u1"}, Quality: "best"}); err != nil {
		t.Fatalf("batch dispatch error = %v", err)
	}
	if br.got.RunID != "run-b" || br.got.Quality != "best" || len(br.got.URLs) != 1 {
		t.Errorf("batch task = %+v", br.got)
	}

	if err := process(ctx, &Task{ID: "run-v", Kind: cache.KindVideo, JobID: "b-2", URL: "https://youtu.be/v", Quality: "720p"}); err != nil {
		t.Fatalf("video dispatch error = %v", err)
	}
	if vr.got.RunID != "run-v" || vr.got.JobID != "b-2" || vr.got.SourceURL != "https://youtu.be/v" || vr.got.Quality != "720p" {
		t.Errorf("video task = %+v", vr.got)
	}

	err := process(ctx, &Task{ID: "run-x", Kind: "mystery"})
	if err == nil || apperrors.IsRetryable(err) {
		t.Errorf("unknown kind should fail terminally, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 5 * time.Minute}, // Capped at maxBackoff
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.retryCount); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}
