// Package validators recognises the media URLs the service accepts and
// reduces them to a canonical form before any job is created.
package validators

import (
	"net/url"
	"strings"
)

// SourceType identifies the platform a URL belongs to
type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceVimeo   SourceType = "vimeo"
	SourceUnknown SourceType = "unknown"
)

// ValidationResult contains the result of URL validation
type ValidationResult struct {
	Valid      bool       `json:"valid"`
	SourceType SourceType `json:"source_type"`
	MediaID    string     `json:"media_id,omitempty"`
	MediaType  string     `json:"media_type,omitempty"` // video, short or live
	URL        string     `json:"url"`
	Canonical  string     `json:"canonical_url,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Validator defines the interface for URL validators
type Validator interface {
	// SourceType returns the source type this validator handles
	SourceType() SourceType

	// CanHandle returns true if this validator can handle the given URL
	CanHandle(url string) bool

	// Validate validates the URL and extracts relevant information
	Validate(url string) ValidationResult
}

// parseHTTP parses raw as an http(s) URL, defaulting the scheme, and
// returns its host without the www./m. prefixes.
func parseHTTP(raw string) (*url.URL, string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", "empty URL"
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, "", "invalid URL format"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", "invalid URL scheme"
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	return parsed, host, ""
}

func invalid(source SourceType, raw, msg string) ValidationResult {
	return ValidationResult{SourceType: source, URL: strings.TrimSpace(raw), Error: msg}
}
