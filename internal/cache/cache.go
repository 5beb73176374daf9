package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scriptgen/backend/internal/logger"
)

// Cache is the Redis-backed status store.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis at the given URL.
func New(redisURL string) (*Cache, error) {
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

	log := logger.Default().WithComponent("cache")
	log.Info(ctx, "connected to redis", map[string]interface{}{"addr": opts.Addr})
	return &Cache{client: client, log: log}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client, log: logger.Default().WithComponent("cache")}
}

// Client exposes the underlying client for health checks.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns a raw value; misses and errors both report false.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	return val, true
}

// Set stores a raw value with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

// PutSnapshot overwrites the run's snapshot and publishes it to subscribers.
func (c *Cache) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(snap.RunID), data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, progressChannel(snap.RunID), data).Err(); err != nil {
		c.log.Warn(ctx, "progress publish failed", map[string]interface{}{"run_id": snap.RunID, "error": err.Error()})
	}
	return nil
}

func (c *Cache) GetSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	var snap Snapshot
	ok, err := c.getJSON(ctx, snapshotKey(runID), &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (c *Cache) PutAssociation(ctx context.Context, assoc *Association) error {
	data, err := json.Marshal(assoc)
	if err != nil {
		return fmt.Errorf("failed to marshal association: %w", err)
	}
	if err := c.client.Set(ctx, associationKey(assoc.RunID), data, AssociationTTL).Err(); err != nil {
		return fmt.Errorf("failed to store association: %w", err)
	}
	return nil
}

func (c *Cache) GetAssociation(ctx context.Context, runID string) (*Association, error) {
	var assoc Association
	ok, err := c.getJSON(ctx, associationKey(runID), &assoc)
	if err != nil || !ok {
		return nil, err
	}
	return &assoc, nil
}

func (c *Cache) getJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Subscribe listens for snapshot writes on a run.
func (c *Cache) Subscribe(ctx context.Context, runID string) (Subscription, error) {
	pubsub := c.client.Subscribe(ctx, progressChannel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return newRedisSubscription(pubsub, pubsub.Channel()), nil
}

// redisSubscription decodes pub/sub messages. The forwarding goroutine
// exits on Close even when nobody is reading.
type redisSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
	done   chan struct{}
	once   sync.Once
}

func newRedisSubscription(pubsub *redis.PubSub, ch <-chan *redis.Message) *redisSubscription {
	return &redisSubscription{pubsub: pubsub, ch: ch, done: make(chan struct{})}
}

func (s *redisSubscription) Channel() <-chan *Snapshot {
	out := make(chan *Snapshot)
	go func() {
		defer close(out)
		for {
			var msg *redis.Message
			select {
			case <-s.done:
				return
			case m, ok := <-s.ch:
				if !ok {
					return
				}
				msg = m
			}
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			select {
			case out <- &snap:
			case <-s.done:
				return
			}
		}
	}()
	return out
}

func (s *redisSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *redisSubscription) Close() error {
	s.stop()
	return s.pubsub.Close()
}
