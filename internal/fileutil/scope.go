// Package fileutil tracks transient files so they are removed on every
// exit path of a job.
package fileutil

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/scriptgen/backend/internal/logger"
)

// Scope owns a set of transient paths. Close removes them all; failures
// are logged and never returned to the job.
type Scope struct {
	mu    sync.Mutex
	paths []string
	log   *logger.Logger
}

func NewScope(log *logger.Logger) *Scope {
	if log == nil {
		log = logger.Default()
	}
	return &Scope{log: log}
}

// Track registers a file or directory for removal.
func (s *Scope) Track(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

// Release removes path now and stops tracking it.
func (s *Scope) Release(ctx context.Context, path string) {
	s.mu.Lock()
	for i, p := range s.paths {
		if p == path {
			s.paths = append(s.paths[:i], s.paths[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.remove(ctx, path)
}

// Close removes everything still tracked, newest first.
func (s *Scope) Close(ctx context.Context) {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		s.remove(ctx, paths[i])
	}
}

func (s *Scope) remove(ctx context.Context, path string) {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn(ctx, "failed to remove transient file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}
