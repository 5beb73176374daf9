package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/scriptgen/backend/internal/cache"
)

const (
	// Redis key prefixes
	keyTaskQueue  = "work:queue"
	keyTaskStatus = "work:task:"

	// Default timeout for blocking operations
	defaultBlockTimeout = 5 * time.Second
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueEmpty   = errors.New("queue is empty")
)

// Queue is a Redis list of task ids with one JSON document per task.
type Queue struct {
	client *redis.Client
	owned  bool
}

// NewQueue creates a new task queue with the given Redis URL
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, owned: true}, nil
}

// NewQueueFromClient shares an existing connection; Close leaves it open.
func NewQueueFromClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Close closes the Redis connection if the queue opened it
func (q *Queue) Close() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}

// Enqueue stores the task and pushes it onto the queue. An empty ID is
// filled with a fresh run id.
func (q *Queue) Enqueue(ctx context.Context, task *Task) (*Task, error) {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Status = StatusQueued
	task.RetryCount = 0
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := q.saveTask(ctx, task); err != nil {
		return nil, err
	}

	if err := q.client.LPush(ctx, keyTaskQueue, task.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return task, nil
}

// Dequeue retrieves and removes a task from the queue (blocking)
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyTaskQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	return q.GetTask(ctx, result[1])
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.client.Get(ctx, keyTaskStatus+taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// UpdateStatus records a delivery state change
func (q *Queue) UpdateStatus(ctx context.Context, taskID, status, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = now

	if status == StatusRunning && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if task.IsTerminal() {
		task.CompletedAt = &now
	}

	return q.saveTask(ctx, task)
}

// Requeue increments the retry count and pushes the task back
func (q *Queue) Requeue(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Status = StatusQueued
	task.Error = ""
	task.CompletedAt = nil
	task.UpdatedAt = time.Now().UTC()

	if err := q.saveTask(ctx, task); err != nil {
		return err
	}

	return q.client.LPush(ctx, keyTaskQueue, taskID).Err()
}

// ListTasks returns known tasks newest first, at most limit of them.
func (q *Queue) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	var tasks []*Task

	iter := q.client.Scan(ctx, 0, keyTaskStatus+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := q.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// QueueLength returns the number of tasks waiting in the queue
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyTaskQueue).Result()
}

// saveTask stores a task for as long as its run id stays resolvable
func (q *Queue) saveTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.client.Set(ctx, keyTaskStatus+task.ID, data, cache.AssociationTTL).Err()
}
