package validators

import (
	"regexp"
	"strings"
)

var vimeoIDPattern = regexp.MustCompile(`^[0-9]{6,12}$`)

// VimeoValidator accepts vimeo.com/<id> and player.vimeo.com/video/<id>.
type VimeoValidator struct{}

func NewVimeoValidator() *VimeoValidator {
	return &VimeoValidator{}
}

func (v *VimeoValidator) SourceType() SourceType {
	return SourceVimeo
}

func (v *VimeoValidator) CanHandle(rawURL string) bool {
	_, host, msg := parseHTTP(rawURL)
	return msg == "" && (host == "vimeo.com" || host == "player.vimeo.com")
}

func (v *VimeoValidator) Validate(rawURL string) ValidationResult {
	parsed, host, msg := parseHTTP(rawURL)
	if msg != "" {
		return invalid(SourceVimeo, rawURL, msg)
	}

	path := strings.Trim(parsed.Path, "/")
	if host == "player.vimeo.com" {
		path = strings.TrimPrefix(path, "video/")
	}
	// channel and group pages end in the numeric id
	segments := strings.Split(path, "/")
	id := segments[len(segments)-1]
	if !vimeoIDPattern.MatchString(id) {
		return invalid(SourceVimeo, rawURL, "could not extract video ID from URL")
	}

	return ValidationResult{
		Valid:      true,
		SourceType: SourceVimeo,
		MediaID:    id,
		MediaType:  "video",
		URL:        strings.TrimSpace(rawURL),
		Canonical:  "https://vimeo.com/" + id,
	}
}
