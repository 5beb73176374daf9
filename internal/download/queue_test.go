package download

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/scriptgen/backend/internal/cache"
)

func getTestRedisURL() string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	return url
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	queue, err := NewQueue(getTestRedisURL())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	return queue
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	task, err := queue.Enqueue(ctx, &Task{
		Kind:  cache.KindTranscription,
		JobID: "script-123",
		URL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}

	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if task.Status != StatusQueued {
		t.Errorf("Expected status %s, got %s", StatusQueued, task.Status)
	}

	dequeued, err := queue.Dequeue(ctx, 1*time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue task: %v", err)
	}

	if dequeued.ID != task.ID {
		t.Errorf("Expected task ID %s, got %s", task.ID, dequeued.ID)
	}
	if dequeued.Kind != cache.KindTranscription || dequeued.JobID != "script-123" {
		t.Errorf("Dequeued task lost fields: %+v", dequeued)
	}
}

func TestQueue_KeepsCallerRunID(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	task, err := queue.Enqueue(ctx, &Task{
		ID:      "run-fixed-id",
		Kind:    cache.KindBatch,
		JobID:   "batch-1",
		URLs:    []string{"https://youtu.be/a", "https://youtu.be/b"},
		Quality: "720p",
	})
	if err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}
	if task.ID != "run-fixed-id" {
		t.Errorf("Expected caller id to be kept, got %s", task.ID)
	}

	got, err := queue.GetTask(ctx, "run-fixed-id")
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if len(got.URLs) != 2 || got.Quality != "720p" {
		t.Errorf("Unexpected task: %+v", got)
	}

	queue.Dequeue(ctx, 1*time.Second)
}

func TestQueue_UpdateStatus(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	task, err := queue.Enqueue(ctx, &Task{Kind: cache.KindTranscription, JobID: "s-1", URL: "https://youtu.be/x"})
	if err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}

	if err := queue.UpdateStatus(ctx, task.ID, StatusRunning, ""); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	updated, err := queue.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if updated.Status != StatusRunning {
		t.Errorf("Expected status %s, got %s", StatusRunning, updated.Status)
	}
	if updated.StartedAt == nil {
		t.Error("StartedAt should be set when status changes to running")
	}

	queue.Dequeue(ctx, 1*time.Second)
}

func TestQueue_Requeue(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	task, err := queue.Enqueue(ctx, &Task{Kind: cache.KindTranscription, JobID: "s-2", URL: "https://youtu.be/y"})
	if err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}
	if _, err := queue.Dequeue(ctx, 1*time.Second); err != nil {
		t.Fatalf("Failed to dequeue task: %v", err)
	}
	if err := queue.UpdateStatus(ctx, task.ID, StatusFailed, "test error"); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}
	if err := queue.Requeue(ctx, task.ID); err != nil {
		t.Fatalf("Failed to requeue task: %v", err)
	}

	updated, err := queue.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if updated.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", updated.RetryCount)
	}
	if updated.Status != StatusQueued || updated.CompletedAt != nil {
		t.Errorf("Expected a fresh queued task, got %+v", updated)
	}

	queue.Dequeue(ctx, 1*time.Second)
}

func TestQueue_QueueLength(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	initialLen, err := queue.QueueLength(ctx)
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}

	for _, url := range []string{"https://youtu.be/len1", "https://youtu.be/len2"} {
		if _, err := queue.Enqueue(ctx, &Task{Kind: cache.KindTranscription, URL: url}); err != nil {
			t.Fatalf("Failed to enqueue task: %v", err)
		}
	}

	newLen, err := queue.QueueLength(ctx)
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if newLen != initialLen+2 {
		t.Errorf("Expected queue length %d, got %d", initialLen+2, newLen)
	}

	queue.Dequeue(ctx, 1*time.Second)
	queue.Dequeue(ctx, 1*time.Second)
}

func TestTask_IsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusComplete, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		task := &Task{Status: tt.status}
		if got := task.IsTerminal(); got != tt.expected {
			t.Errorf("IsTerminal() for status %s = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestTask_CanRetry(t *testing.T) {
	maxRetries := 3

	tests := []struct {
		status     string
		retryCount int
		expected   bool
	}{
		{StatusFailed, 0, true},
		{StatusFailed, 2, true},
		{StatusFailed, 3, false},
		{StatusComplete, 0, false},
		{StatusQueued, 0, false},
	}

	for _, tt := range tests {
		task := &Task{Status: tt.status, RetryCount: tt.retryCount}
		if got := task.CanRetry(maxRetries); got != tt.expected {
			t.Errorf("CanRetry(%d) for status=%s, retryCount=%d = %v, want %v",
				maxRetries, tt.status, tt.retryCount, got, tt.expected)
		}
	}
}
