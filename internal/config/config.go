package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server holds HTTP listener settings.
type Server struct {
	Addr string `toml:"addr"`
	// PublicURL prefixes signed download links. Empty yields relative links.
	PublicURL      string   `toml:"public_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Database selects and configures the durable job store.
type Database struct {
	Driver     string `toml:"driver"`
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	Name       string `toml:"name"`
	SQLitePath string `toml:"sqlite_path"`
}

// Redis configures the status cache and the work queue.
type Redis struct {
	URL string `toml:"url"`
}

// Workers configures the queue consumers.
type Workers struct {
	Count          int `toml:"count"`
	MaxRetries     int `toml:"max_retries"`
	JobTimeoutSecs int `toml:"job_timeout_seconds"`
}

// Paths holds local working directories.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	ArchiveDir string `toml:"archive_dir"`
}

// Acquisition configures the media download tool.
type Acquisition struct {
	YtdlpPath    string `toml:"ytdlp_path"`
	AudioQuality string `toml:"audio_quality"`
	NativeProbe  bool   `toml:"native_probe"`
}

// Transcription configures the speech-to-text engine.
type Transcription struct {
	WhisperPath string `toml:"whisper_path"`
	Model       string `toml:"model"`
	Language    string `toml:"language"`
}

// Storage configures optional object storage publishing.
type Storage struct {
	MinioEndpoint  string `toml:"minio_endpoint"`
	MinioAccessKey string `toml:"minio_access_key"`
	MinioSecretKey string `toml:"minio_secret_key"`
	MinioBucket    string `toml:"minio_bucket"`
	MinioUseSSL    bool   `toml:"minio_use_ssl"`
	S3Region       string `toml:"s3_region"`
	S3Bucket       string `toml:"s3_bucket"`
	S3Endpoint     string `toml:"s3_endpoint"`
	S3AccessKey    string `toml:"s3_access_key"`
	S3SecretKey    string `toml:"s3_secret_key"`
}

// Links configures signed archive download links.
type Links struct {
	Secret     string `toml:"secret"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// Janitor configures the stale file sweeper.
type Janitor struct {
	IntervalMinutes int `toml:"interval_minutes"`
	MaxAgeMinutes   int `toml:"max_age_minutes"`
	ArchiveTTLHours int `toml:"archive_ttl_hours"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full service configuration.
type Config struct {
	Server        Server        `toml:"server"`
	Database      Database      `toml:"database"`
	Redis         Redis         `toml:"redis"`
	Workers       Workers       `toml:"workers"`
	Paths         Paths         `toml:"paths"`
	Acquisition   Acquisition   `toml:"acquisition"`
	Transcription Transcription `toml:"transcription"`
	Storage       Storage       `toml:"storage"`
	Links         Links         `toml:"links"`
	Janitor       Janitor       `toml:"janitor"`
	Logging       Logging       `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080"},
		Database: Database{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       "5432",
			User:       "scriptgen",
			Password:   "scriptgen_dev_password",
			Name:       "scriptgen",
			SQLitePath: "~/.local/share/scriptgen/scriptgen.db",
		},
		Redis:   Redis{URL: "redis://localhost:6379"},
		Workers: Workers{Count: 3, MaxRetries: 3, JobTimeoutSecs: 1800},
		Paths: Paths{
			WorkDir:    filepath.Join(os.TempDir(), "scriptgen"),
			ArchiveDir: filepath.Join(os.TempDir(), "scriptgen", "archives"),
		},
		Acquisition:   Acquisition{YtdlpPath: "yt-dlp", AudioQuality: "192"},
		Transcription: Transcription{WhisperPath: "whisper", Model: "base"},
		Storage: Storage{
			MinioBucket: "scriptgen-archives",
			S3Region:    "us-east-1",
		},
		Links:   Links{TTLMinutes: 60},
		Janitor: Janitor{IntervalMinutes: 15, MaxAgeMinutes: 120, ArchiveTTLHours: 24},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (or
// $SCRIPTGEN_CONFIG) when present, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SCRIPTGEN_CONFIG")
	}
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnvOrDefault("SERVER_ADDR", c.Server.Addr)
	c.Server.PublicURL = getEnvOrDefault("PUBLIC_URL", c.Server.PublicURL)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	c.Database.Driver = getEnvOrDefault("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.SQLitePath = getEnvOrDefault("SQLITE_PATH", c.Database.SQLitePath)
	c.Redis.URL = getEnvOrDefault("REDIS_URL", c.Redis.URL)
	c.Workers.Count = getEnvInt("WORKER_COUNT", c.Workers.Count)
	c.Workers.MaxRetries = getEnvInt("WORKER_MAX_RETRIES", c.Workers.MaxRetries)
	c.Workers.JobTimeoutSecs = getEnvInt("JOB_TIMEOUT_SECONDS", c.Workers.JobTimeoutSecs)
	c.Paths.WorkDir = getEnvOrDefault("WORK_DIR", c.Paths.WorkDir)
	c.Paths.ArchiveDir = getEnvOrDefault("ARCHIVE_DIR", c.Paths.ArchiveDir)
	c.Acquisition.YtdlpPath = getEnvOrDefault("YTDLP_PATH", c.Acquisition.YtdlpPath)
	c.Acquisition.NativeProbe = getEnvBool("NATIVE_PROBE", c.Acquisition.NativeProbe)
	c.Transcription.WhisperPath = getEnvOrDefault("WHISPER_PATH", c.Transcription.WhisperPath)
	c.Transcription.Model = getEnvOrDefault("WHISPER_MODEL", c.Transcription.Model)
	c.Transcription.Language = getEnvOrDefault("WHISPER_LANGUAGE", c.Transcription.Language)
	c.Storage.MinioEndpoint = getEnvOrDefault("MINIO_ENDPOINT", c.Storage.MinioEndpoint)
	c.Storage.MinioAccessKey = getEnvOrDefault("MINIO_ACCESS_KEY", c.Storage.MinioAccessKey)
	c.Storage.MinioSecretKey = getEnvOrDefault("MINIO_SECRET_KEY", c.Storage.MinioSecretKey)
	c.Storage.MinioBucket = getEnvOrDefault("MINIO_BUCKET", c.Storage.MinioBucket)
	c.Storage.MinioUseSSL = getEnvBool("MINIO_USE_SSL", c.Storage.MinioUseSSL)
	c.Storage.S3Region = getEnvOrDefault("S3_REGION", c.Storage.S3Region)
	c.Storage.S3Bucket = getEnvOrDefault("S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Endpoint = getEnvOrDefault("S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.S3AccessKey = getEnvOrDefault("S3_ACCESS_KEY", c.Storage.S3AccessKey)
	c.Storage.S3SecretKey = getEnvOrDefault("S3_SECRET_KEY", c.Storage.S3SecretKey)
	c.Links.Secret = getEnvOrDefault("LINK_SECRET", c.Links.Secret)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	var err error
	if c.Paths.WorkDir, err = ExpandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = ExpandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Database.Driver == "sqlite" {
		if c.Database.SQLitePath, err = ExpandPath(c.Database.SQLitePath); err != nil {
			return fmt.Errorf("database.sqlite_path: %w", err)
		}
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 3
	}
	if c.Workers.MaxRetries < 0 {
		c.Workers.MaxRetries = 0
	}
	if c.Links.Secret == "" {
		c.Links.Secret = generateDefaultSecret()
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return errors.New("database.sqlite_path is required for the sqlite driver")
	}
	if c.Workers.JobTimeoutSecs <= 0 {
		return errors.New("workers.job_timeout_seconds must be positive")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format)
	}
	if c.Storage.S3Bucket != "" && c.Storage.S3Region == "" {
		return errors.New("storage.s3_region is required when storage.s3_bucket is set")
	}
	return nil
}

// JobTimeout returns the per-task deadline enforced by the worker pool.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Workers.JobTimeoutSecs) * time.Second
}

// LinkTTL returns how long signed download links stay valid.
func (c *Config) LinkTTL() time.Duration {
	if c.Links.TTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Links.TTLMinutes) * time.Minute
}

// MinioEnabled reports whether archives are published to object storage.
func (c *Config) MinioEnabled() bool {
	return c.Storage.MinioEndpoint != ""
}

// S3Enabled reports whether transcript exports are uploaded to S3.
func (c *Config) S3Enabled() bool {
	return c.Storage.S3Bucket != ""
}

// PostgresDSN builds the lib/pq connection string.
func (d Database) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
