package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      *Snapshot
	assoc     *Association
	expiresAt time.Time
}

// Memory is an in-process status store with the same expiry rules as the
// Redis store. Tests use it in place of Redis.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	snapshots   map[string]memoryEntry
	assocs      map[string]memoryEntry
	subscribers map[string][]*memorySubscription
}

// NewMemory returns an empty store using the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock lets tests control expiry.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:         now,
		snapshots:   make(map[string]memoryEntry),
		assocs:      make(map[string]memoryEntry),
		subscribers: make(map[string][]*memorySubscription),
	}
}

func (m *Memory) PutSnapshot(_ context.Context, snap *Snapshot) error {
	cp := *snap
	m.mu.Lock()
	m.snapshots[snap.RunID] = memoryEntry{snap: &cp, expiresAt: m.now().Add(SnapshotTTL)}
	subs := append([]*memorySubscription(nil), m.subscribers[snap.RunID]...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(&cp)
	}
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, runID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.snapshots[runID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.snapshots, runID)
		return nil, nil
	}
	cp := *e.snap
	return &cp, nil
}

func (m *Memory) PutAssociation(_ context.Context, assoc *Association) error {
	cp := *assoc
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assocs[assoc.RunID] = memoryEntry{assoc: &cp, expiresAt: m.now().Add(AssociationTTL)}
	return nil
}

func (m *Memory) GetAssociation(_ context.Context, runID string) (*Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.assocs[runID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.assocs, runID)
		return nil, nil
	}
	cp := *e.assoc
	return &cp, nil
}

// Subscribe receives snapshot writes until ctx is done or Close is called.
func (m *Memory) Subscribe(ctx context.Context, runID string) (Subscription, error) {
	sub := &memorySubscription{ch: make(chan *Snapshot, 16), done: make(chan struct{})}
	sub.close = func() {
		m.mu.Lock()
		subs := m.subscribers[runID]
		for i, s := range subs {
			if s == sub {
				m.subscribers[runID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(m.subscribers[runID]) == 0 {
			delete(m.subscribers, runID)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.subscribers[runID] = append(m.subscribers[runID], sub)
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type memorySubscription struct {
	mu     sync.Mutex
	ch     chan *Snapshot
	done   chan struct{}
	closed bool
	close  func()
}

// deliver drops the snapshot when the subscriber is not keeping up.
func (s *memorySubscription) deliver(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// Channel is closed once the subscription is closed.
func (s *memorySubscription) Channel() <-chan *Snapshot {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()

	s.close()
	return nil
}
