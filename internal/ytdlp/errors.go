package ytdlp

import "errors"

var (
	// ErrURLNotSupported indicates no extractor handles the URL
	ErrURLNotSupported = errors.New("url not supported")

	// ErrVideoUnavailable indicates the video is removed or blocked
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrVideoPrivate indicates the video is private
	ErrVideoPrivate = errors.New("video is private")

	// ErrAgeRestricted indicates the content needs a signed-in session
	ErrAgeRestricted = errors.New("content is age-restricted")

	// ErrNetworkError indicates a network-related failure
	ErrNetworkError = errors.New("network error")

	// ErrYtdlpNotFound indicates yt-dlp is not installed
	ErrYtdlpNotFound = errors.New("yt-dlp not found in PATH")

	// ErrDownloadFailed indicates the tool ran but produced nothing usable
	ErrDownloadFailed = errors.New("download failed")

	// ErrInvalidURL indicates the URL cannot be parsed or has a bad scheme
	ErrInvalidURL = errors.New("invalid url format")
)

// DownloadError carries the URL and a short reason alongside the cause.
type DownloadError struct {
	URL     string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same URL may succeed.
func (e *DownloadError) Transient() bool {
	return errors.Is(e.Err, ErrNetworkError)
}
