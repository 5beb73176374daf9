package ytdlp

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/scriptgen/backend/internal/logger"
)

// MetadataSource is anything that can describe a URL without downloading.
type MetadataSource interface {
	ExtractMetadata(ctx context.Context, sourceURL string) (*Metadata, error)
}

// videoClient is the subset of youtube.Client used by NativeProbe.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
}

// NativeProbe answers metadata lookups for YouTube URLs in-process and
// hands everything else, including native failures, to the fallback.
type NativeProbe struct {
	client   videoClient
	fallback MetadataSource
	log      *logger.Logger
}

func NewNativeProbe(fallback MetadataSource) *NativeProbe {
	return &NativeProbe{
		client:   &youtube.Client{},
		fallback: fallback,
		log:      logger.Default().WithComponent("ytdlp.native"),
	}
}

func (p *NativeProbe) ExtractMetadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	if !isYouTubeURL(sourceURL) {
		return p.fallback.ExtractMetadata(ctx, sourceURL)
	}

	video, err := p.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		p.log.Debug(ctx, "native probe failed, falling back to yt-dlp", map[string]interface{}{
			"url":   sourceURL,
			"error": err.Error(),
		})
		return p.fallback.ExtractMetadata(ctx, sourceURL)
	}

	m := &Metadata{
		ID:         video.ID,
		Title:      video.Title,
		Duration:   video.Duration.Seconds(),
		Channel:    video.Author,
		ViewCount:  int64(video.Views),
		WebpageURL: "https://www.youtube.com/watch?v=" + video.ID,
		Extractor:  "youtube",
		ProbedAt:   time.Now().UTC(),
	}
	if !video.PublishDate.IsZero() {
		m.UploadDate = video.PublishDate.Format("20060102")
	}
	if n := len(video.Thumbnails); n > 0 {
		m.Thumbnail = video.Thumbnails[n-1].URL
	}
	return m, nil
}

func isYouTubeURL(sourceURL string) bool {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}
