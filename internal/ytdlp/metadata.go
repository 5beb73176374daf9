package ytdlp

import (
	"math"
	"time"
)

// Metadata describes a remote video without downloading it.
type Metadata struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Duration   float64   `json:"duration"`
	Channel    string    `json:"channel"`
	Thumbnail  string    `json:"thumbnail"`
	UploadDate string    `json:"upload_date,omitempty"`
	ViewCount  int64     `json:"view_count"`
	WebpageURL string    `json:"webpage_url"`
	Extractor  string    `json:"extractor"`
	ProbedAt   time.Time `json:"probed_at"`
}

// DurationSeconds rounds the duration to whole seconds.
func (m *Metadata) DurationSeconds() int {
	return int(math.Round(m.Duration))
}

// YtdlpOutput represents the JSON output from yt-dlp --dump-json
type YtdlpOutput struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	Thumbnails []Thumb `json:"thumbnails"`
	UploadDate string  `json:"upload_date"`
	ViewCount  int64   `json:"view_count"`
	WebpageURL string  `json:"webpage_url"`
	Extractor  string  `json:"extractor"`
}

// Thumb represents a thumbnail entry
type Thumb struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ToMetadata normalises yt-dlp output.
func (o *YtdlpOutput) ToMetadata() *Metadata {
	m := &Metadata{
		ID:         o.ID,
		Title:      o.Title,
		Duration:   o.Duration,
		Channel:    o.Channel,
		Thumbnail:  o.Thumbnail,
		UploadDate: o.UploadDate,
		ViewCount:  o.ViewCount,
		WebpageURL: o.WebpageURL,
		Extractor:  o.Extractor,
		ProbedAt:   time.Now().UTC(),
	}
	if m.Channel == "" {
		m.Channel = o.Uploader
	}
	if m.Thumbnail == "" && len(o.Thumbnails) > 0 {
		m.Thumbnail = o.Thumbnails[len(o.Thumbnails)-1].URL
	}
	return m
}
