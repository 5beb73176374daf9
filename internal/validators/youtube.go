package validators

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":          true,
	"youtu.be":             true,
	"music.youtube.com":    true,
	"youtube-nocookie.com": true,
}

// youtubePaths maps path prefixes that carry the id as their next segment.
var youtubePaths = []struct {
	prefix    string
	mediaType string
}{
	{"/shorts/", "short"},
	{"/embed/", "video"},
	{"/v/", "video"},
	{"/live/", "live"},
}

// YouTubeValidator accepts single YouTube videos, shorts and streams.
type YouTubeValidator struct{}

func NewYouTubeValidator() *YouTubeValidator {
	return &YouTubeValidator{}
}

func (v *YouTubeValidator) SourceType() SourceType {
	return SourceYouTube
}

func (v *YouTubeValidator) CanHandle(rawURL string) bool {
	_, host, msg := parseHTTP(rawURL)
	return msg == "" && youtubeHosts[host]
}

// Validate extracts the video id. Playlist links without a video are
// rejected because every job covers exactly one video.
func (v *YouTubeValidator) Validate(rawURL string) ValidationResult {
	parsed, host, msg := parseHTTP(rawURL)
	if msg != "" {
		return invalid(SourceYouTube, rawURL, msg)
	}
	if !youtubeHosts[host] {
		return invalid(SourceYouTube, rawURL, "not a YouTube URL")
	}

	videoID, mediaType := youtubeID(host, parsed)
	if videoID == "" {
		if parsed.Query().Get("list") != "" {
			return invalid(SourceYouTube, rawURL, "playlists are not supported, link a single video")
		}
		return invalid(SourceYouTube, rawURL, "could not extract video ID from URL")
	}
	if !youtubeIDPattern.MatchString(videoID) {
		res := invalid(SourceYouTube, rawURL, "invalid video ID format")
		res.MediaID = videoID
		return res
	}

	return ValidationResult{
		Valid:      true,
		SourceType: SourceYouTube,
		MediaID:    videoID,
		MediaType:  mediaType,
		URL:        strings.TrimSpace(rawURL),
		Canonical:  "https://www.youtube.com/watch?v=" + videoID,
	}
}

func youtubeID(host string, parsed *url.URL) (string, string) {
	if host == "youtu.be" {
		return firstSegment(strings.TrimPrefix(parsed.Path, "/")), "video"
	}
	if strings.HasPrefix(parsed.Path, "/watch") {
		return parsed.Query().Get("v"), "video"
	}
	for _, p := range youtubePaths {
		if strings.HasPrefix(parsed.Path, p.prefix) {
			return firstSegment(strings.TrimPrefix(parsed.Path, p.prefix)), p.mediaType
		}
	}
	return "", ""
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
