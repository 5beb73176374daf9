package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/scriptgen/backend/internal/command"
)

// audioFallbackExts are checked when the mp3 conversion did not happen.
var audioFallbackExts = []string{".mp3", ".m4a", ".webm", ".opus", ".wav"}

// Config holds configuration for the yt-dlp service
type Config struct {
	// AudioQuality is the mp3 bitrate passed to the audio post-processor
	AudioQuality string
	// YtdlpPath is the path to yt-dlp binary (default: "yt-dlp")
	YtdlpPath string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		AudioQuality: "192",
		YtdlpPath:    "yt-dlp",
	}
}

// Service wraps yt-dlp for metadata probes and media downloads
type Service struct {
	cfg    *Config
	runner command.Runner
}

// New creates a yt-dlp service after checking the binary exists.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !command.Available(cfg.YtdlpPath) {
		return nil, ErrYtdlpNotFound
	}
	return &Service{cfg: cfg, runner: command.ExecRunner{}}, nil
}

// NewWithRunner builds a service around an injected runner.
func NewWithRunner(cfg *Config, runner command.Runner) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{cfg: cfg, runner: runner}
}

// ExtractMetadata retrieves metadata for a URL without downloading
func (s *Service) ExtractMetadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	if err := validateURL(sourceURL); err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, s.cfg.YtdlpPath,
		"--dump-json",
		"--no-download",
		"--no-playlist",
		"--no-warnings",
		sourceURL,
	)
	if err != nil {
		return nil, categorizeError(sourceURL, err, res.Stderr)
	}

	var out YtdlpOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, &DownloadError{URL: sourceURL, Message: "failed to parse metadata", Err: err}
	}
	return out.ToMetadata(), nil
}

// AcquireAudio downloads the audio track as <dir>/<name>.mp3. When the
// conversion step is unavailable the native container is accepted.
func (s *Service) AcquireAudio(ctx context.Context, sourceURL, dir, name string) (string, error) {
	if err := validateURL(sourceURL); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &DownloadError{URL: sourceURL, Message: "failed to create work directory", Err: err}
	}

	base := filepath.Join(dir, name)
	res, err := s.runner.Run(ctx, s.cfg.YtdlpPath,
		"-f", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", s.cfg.AudioQuality,
		"--no-playlist",
		"--no-warnings",
		"--output", base+".%(ext)s",
		"--print", "after_move:filepath",
		"--no-simulate",
		sourceURL,
	)
	if err != nil {
		return "", categorizeError(sourceURL, err, res.Stderr)
	}

	if path := command.LastLine(res.Stdout); path != "" && fileExists(path) {
		return path, nil
	}
	for _, ext := range audioFallbackExts {
		if path := base + ext; fileExists(path) {
			return path, nil
		}
	}
	return "", &DownloadError{URL: sourceURL, Message: "output file not found", Err: ErrDownloadFailed}
}

// AcquireVideo downloads a video as <dir>/<name>.<ext> at the requested
// quality. Unknown qualities fall back to the best single mp4 stream.
func (s *Service) AcquireVideo(ctx context.Context, sourceURL, quality, dir, name string) (string, error) {
	if err := validateURL(sourceURL); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &DownloadError{URL: sourceURL, Message: "failed to create work directory", Err: err}
	}

	base := filepath.Join(dir, name)
	res, err := s.runner.Run(ctx, s.cfg.YtdlpPath,
		"-f", selectFormat(quality),
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-warnings",
		"--output", base+".%(ext)s",
		"--print", "after_move:filepath",
		"--no-simulate",
		sourceURL,
	)
	if err != nil {
		return "", categorizeError(sourceURL, err, res.Stderr)
	}

	if path := command.LastLine(res.Stdout); path != "" && fileExists(path) {
		return path, nil
	}
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && fileExists(m) {
			return m, nil
		}
	}
	return "", &DownloadError{URL: sourceURL, Message: "output file not found", Err: ErrDownloadFailed}
}

// selectFormat maps a requested quality to a yt-dlp format selector.
func selectFormat(rawQuality string) string {
	switch strings.ToLower(strings.TrimSpace(rawQuality)) {
	case "", "best":
		return "bv*+ba/b"
	case "720p", "720":
		return "bv*[height<=720]+ba/b[height<=720]"
	case "480p", "480":
		return "bv*[height<=480]+ba/b[height<=480]"
	default:
		return "b[ext=mp4]/b"
	}
}

func validateURL(sourceURL string) error {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Host == "" {
		return &DownloadError{URL: sourceURL, Message: "invalid url", Err: ErrInvalidURL}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &DownloadError{URL: sourceURL, Message: "invalid url scheme", Err: ErrInvalidURL}
	}
	return nil
}

// categorizeError converts yt-dlp failures into specific error types
func categorizeError(sourceURL string, err error, stderr string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DownloadError{URL: sourceURL, Message: "download interrupted", Err: err}
	}

	stderrLower := strings.ToLower(stderr)

	switch {
	case strings.Contains(stderrLower, "private video") ||
		strings.Contains(stderrLower, "is private"):
		return &DownloadError{URL: sourceURL, Message: "video is private", Err: ErrVideoPrivate}

	case strings.Contains(stderrLower, "video unavailable") ||
		strings.Contains(stderrLower, "this video is unavailable") ||
		strings.Contains(stderrLower, "has been removed"):
		return &DownloadError{URL: sourceURL, Message: "video unavailable", Err: ErrVideoUnavailable}

	case strings.Contains(stderrLower, "age-restricted") ||
		strings.Contains(stderrLower, "sign in to confirm your age"):
		return &DownloadError{URL: sourceURL, Message: "content is age-restricted", Err: ErrAgeRestricted}

	case strings.Contains(stderrLower, "unsupported url") ||
		strings.Contains(stderrLower, "no suitable extractor"):
		return &DownloadError{URL: sourceURL, Message: "url not supported", Err: ErrURLNotSupported}

	case strings.Contains(stderrLower, "unable to download") ||
		strings.Contains(stderrLower, "connection") ||
		strings.Contains(stderrLower, "network"):
		return &DownloadError{URL: sourceURL, Message: "network error", Err: ErrNetworkError}

	default:
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = err.Error()
		}
		return &DownloadError{URL: sourceURL, Message: "download failed", Err: fmt.Errorf("%w: %s", ErrDownloadFailed, detail)}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
