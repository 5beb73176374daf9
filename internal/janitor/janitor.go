// Package janitor removes abandoned run directories and expired archives.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/scriptgen/backend/internal/logger"
)

// LockName is the lock file created in the work directory.
const LockName = ".janitor.lock"

// Work directory prefixes created by the runners.
var workPrefixes = []string{"batch_", "run_", "video_", "direct_"}

// videoPrefix marks single-video outputs kept in the archive directory.
const videoPrefix = "video_"

// ArchiveRemover deletes the published copy of an archive.
type ArchiveRemover interface {
	RemoveArchive(ctx context.Context, objectName string) error
}

// Config wires a Janitor. Remote is optional.
type Config struct {
	WorkDir    string
	ArchiveDir string
	Interval   time.Duration
	MaxAge     time.Duration
	ArchiveTTL time.Duration
	Remote     ArchiveRemover
	Logger     *logger.Logger
}

// Report summarizes one sweep.
type Report struct {
	Skipped         bool
	WorkDirsRemoved int
	ArchivesRemoved int
	BytesFreed      int64
}

// Janitor sweeps the work and archive directories. Only one process sweeps
// a work root at a time.
type Janitor struct {
	cfg  Config
	lock *flock.Flock
	log  *logger.Logger
	now  func() time.Time
}

// New builds a Janitor.
func New(cfg Config) *Janitor {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Janitor{
		cfg:  cfg,
		lock: flock.New(filepath.Join(cfg.WorkDir, LockName)),
		log:  log.WithComponent("janitor"),
		now:  time.Now,
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error(ctx, "sweep failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. It reports Skipped when another process
// holds the lock.
func (j *Janitor) RunOnce(ctx context.Context) (*Report, error) {
	if err := os.MkdirAll(j.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	ok, err := j.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire janitor lock: %w", err)
	}
	if !ok {
		j.log.Debug(ctx, "another janitor holds the lock", nil)
		return &Report{Skipped: true}, nil
	}
	defer func() {
		if err := j.lock.Unlock(); err != nil {
			j.log.Warn(ctx, "failed to release janitor lock", map[string]interface{}{"error": err.Error()})
		}
	}()

	report := &Report{}
	now := j.now()
	if j.cfg.MaxAge > 0 {
		j.sweepWorkDirs(ctx, now.Add(-j.cfg.MaxAge), report)
	}
	if j.cfg.ArchiveTTL > 0 && j.cfg.ArchiveDir != "" {
		j.sweepArchives(ctx, now.Add(-j.cfg.ArchiveTTL), report)
	}

	if report.WorkDirsRemoved > 0 || report.ArchivesRemoved > 0 {
		j.log.Info(ctx, "sweep complete", map[string]interface{}{
			"work_dirs": report.WorkDirsRemoved,
			"archives":  report.ArchivesRemoved,
			"freed":     humanize.Bytes(uint64(report.BytesFreed)),
		})
	}
	return report, nil
}

func (j *Janitor) sweepWorkDirs(ctx context.Context, cutoff time.Time, report *Report) {
	entries, err := os.ReadDir(j.cfg.WorkDir)
	if err != nil {
		j.log.Warn(ctx, "cannot list work dir", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !hasWorkPrefix(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.WorkDir, e.Name())
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			j.log.Warn(ctx, "failed to remove work dir", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		report.WorkDirsRemoved++
		report.BytesFreed += size
	}
}

func (j *Janitor) sweepArchives(ctx context.Context, cutoff time.Time, report *Report) {
	entries, err := os.ReadDir(j.cfg.ArchiveDir)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		j.log.Warn(ctx, "cannot list archive dir", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isOutput(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.ArchiveDir, e.Name())
		if err := os.Remove(path); err != nil {
			j.log.Warn(ctx, "failed to remove archive", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		report.ArchivesRemoved++
		report.BytesFreed += info.Size()

		if j.cfg.Remote != nil {
			if err := j.cfg.Remote.RemoveArchive(ctx, e.Name()); err != nil {
				j.log.Warn(ctx, "failed to remove published archive", map[string]interface{}{"name": e.Name(), "error": err.Error()})
			}
		}
	}
}

func isOutput(name string) bool {
	return strings.HasSuffix(name, ".zip") || strings.HasPrefix(name, videoPrefix)
}

func hasWorkPrefix(name string) bool {
	for _, p := range workPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
