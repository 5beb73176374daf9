package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/config"
	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/download"
	"github.com/scriptgen/backend/internal/health"
	"github.com/scriptgen/backend/internal/janitor"
	"github.com/scriptgen/backend/internal/jobs"
	"github.com/scriptgen/backend/internal/links"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/metrics"
	"github.com/scriptgen/backend/internal/pipeline"
	"github.com/scriptgen/backend/internal/status"
	"github.com/scriptgen/backend/internal/storage"
	"github.com/scriptgen/backend/internal/transcribe"
	"github.com/scriptgen/backend/internal/ytdlp"
)

const version = "1.0.0"

// services holds the process-wide dependency graph. Stores are always
// opened; media tooling is attached only by commands that run jobs.
type services struct {
	cfg *config.Config
	log *logger.Logger

	db         *db.DB
	cache      *cache.Cache
	queue      *download.Queue
	scripts    *db.ScriptRepository
	batches    *db.BatchRepository
	reconciler *status.Reconciler
	metrics    *metrics.Metrics
	signer     *links.Signer

	media    *ytdlp.Service
	probe    jobs.MetadataProbe
	engine   *transcribe.Engine
	archives *storage.ArchiveStore
	exporter *storage.TranscriptExporter
}

func openStores(cfg *config.Config, log *logger.Logger) (*services, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	statusCache, err := cache.New(cfg.Redis.URL)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	scripts := db.NewScriptRepository(conn)
	batches := db.NewBatchRepository(conn)

	return &services{
		cfg:        cfg,
		log:        log,
		db:         conn,
		cache:      statusCache,
		queue:      download.NewQueueFromClient(statusCache.Client()),
		scripts:    scripts,
		batches:    batches,
		reconciler: status.NewReconciler(statusCache, scripts, batches, log),
		metrics:    metrics.New(),
		signer:     links.NewSigner(cfg.Links.Secret, cfg.LinkTTL(), cfg.Server.PublicURL),
	}, nil
}

// attachMedia resolves the external tools and the optional object stores.
func (s *services) attachMedia(ctx context.Context) error {
	media, err := ytdlp.New(&ytdlp.Config{
		YtdlpPath:    s.cfg.Acquisition.YtdlpPath,
		AudioQuality: s.cfg.Acquisition.AudioQuality,
	})
	if err != nil {
		return fmt.Errorf("media tool: %w", err)
	}
	s.media = media
	s.probe = media
	if s.cfg.Acquisition.NativeProbe {
		s.probe = ytdlp.NewNativeProbe(media)
	}

	s.engine = transcribe.New(transcribe.Config{
		WhisperPath: s.cfg.Transcription.WhisperPath,
		Model:       s.cfg.Transcription.Model,
		Language:    s.cfg.Transcription.Language,
	})

	if err := s.attachStorage(ctx); err != nil {
		return err
	}
	return os.MkdirAll(s.cfg.Paths.ArchiveDir, 0o755)
}

// attachStorage connects the configured object stores. Both are optional.
func (s *services) attachStorage(ctx context.Context) error {
	if s.cfg.MinioEnabled() && s.archives == nil {
		archives, err := storage.NewArchiveStore(&storage.ArchiveConfig{
			Endpoint:  s.cfg.Storage.MinioEndpoint,
			AccessKey: s.cfg.Storage.MinioAccessKey,
			SecretKey: s.cfg.Storage.MinioSecretKey,
			Bucket:    s.cfg.Storage.MinioBucket,
			UseSSL:    s.cfg.Storage.MinioUseSSL,
			LinkTTL:   s.cfg.LinkTTL(),
		})
		if err != nil {
			return err
		}
		if err := archives.EnsureBucket(ctx); err != nil {
			// Archives stay downloadable from local disk.
			s.log.Warn(ctx, "archive bucket unavailable", map[string]interface{}{
				"bucket": s.cfg.Storage.MinioBucket,
				"error":  err.Error(),
			})
		}
		s.archives = archives
	}

	if s.cfg.S3Enabled() && s.exporter == nil {
		s.exporter = storage.NewTranscriptExporter(&storage.TranscriptConfig{
			Region:    s.cfg.Storage.S3Region,
			Bucket:    s.cfg.Storage.S3Bucket,
			Endpoint:  s.cfg.Storage.S3Endpoint,
			AccessKey: s.cfg.Storage.S3AccessKey,
			SecretKey: s.cfg.Storage.S3SecretKey,
		})
	}
	return nil
}

func (s *services) processor() download.Processor {
	transcription := pipeline.TranscriptionRunnerConfig{
		Media:   s.media,
		Engine:  s.engine,
		Scripts: s.scripts,
		Status:  s.cache,
		Counter: s.metrics,
		WorkDir: s.cfg.Paths.WorkDir,
		Logger:  s.log,
	}
	if s.exporter != nil {
		transcription.Exporter = s.exporter
	}

	batch := pipeline.BatchRunnerConfig{
		Media:       s.media,
		Batches:     s.batches,
		Status:      s.cache,
		Counter:     s.metrics,
		WorkDir:     s.cfg.Paths.WorkDir,
		ArchiveDir:  s.cfg.Paths.ArchiveDir,
		DownloadURL: s.signer.URL,
		Logger:      s.log,
	}
	video := pipeline.VideoRunnerConfig{
		Media:       s.media,
		Batches:     s.batches,
		Status:      s.cache,
		Counter:     s.metrics,
		WorkDir:     s.cfg.Paths.WorkDir,
		OutputDir:   s.cfg.Paths.ArchiveDir,
		DownloadURL: s.signer.URL,
		Logger:      s.log,
	}
	if s.archives != nil {
		batch.Publisher = s.archives
		video.Publisher = s.archives
	}

	return download.Dispatch(
		pipeline.NewTranscriptionRunner(transcription),
		pipeline.NewBatchRunner(batch),
		pipeline.NewVideoRunner(video),
	)
}

func (s *services) workers() *download.Service {
	return download.NewService(s.queue, s.processor(), &download.ServiceConfig{
		Pool: &download.WorkerPoolConfig{
			WorkerCount: s.cfg.Workers.Count,
			MaxRetries:  s.cfg.Workers.MaxRetries,
			JobTimeout:  s.cfg.JobTimeout(),
			Metrics:     s.metrics,
			Logger:      s.log,
		},
	})
}

func (s *services) jobs() *jobs.Service {
	cfg := jobs.Config{
		Probe:      s.probe,
		ProbeCache: s.cache,
		Scripts:    s.scripts,
		Batches:    s.batches,
		Status:     s.cache,
		Queue:      s.queue,
		WorkDir:    s.cfg.Paths.WorkDir,
		Logger:     s.log,
	}
	if s.media != nil {
		cfg.Media = s.media
	}
	return jobs.NewService(cfg)
}

func (s *services) janitor() *janitor.Janitor {
	cfg := janitor.Config{
		WorkDir:    s.cfg.Paths.WorkDir,
		ArchiveDir: s.cfg.Paths.ArchiveDir,
		Interval:   time.Duration(s.cfg.Janitor.IntervalMinutes) * time.Minute,
		MaxAge:     time.Duration(s.cfg.Janitor.MaxAgeMinutes) * time.Minute,
		ArchiveTTL: time.Duration(s.cfg.Janitor.ArchiveTTLHours) * time.Hour,
		Logger:     s.log,
	}
	if s.archives != nil {
		cfg.Remote = s.archives
	}
	return janitor.New(cfg)
}

func (s *services) healthChecker() *health.Checker {
	var components []health.Component
	if s.archives != nil {
		components = append(components, health.Component{Name: "archive_storage", Check: s.archives.Ping, Optional: true})
	}
	if s.exporter != nil {
		components = append(components, health.Component{Name: "transcript_export", Check: s.exporter.Ping, Optional: true})
	}
	return health.NewChecker(&health.CheckerConfig{
		DB:         s.db.DB,
		Redis:      s.cache.Client(),
		Components: components,
		Version:    version,
	})
}

// Close releases the stores. The redis client is shared with the queue, so
// a client already closed by the worker service is not an error.
func (s *services) Close() error {
	var errs []error
	if err := s.cache.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
