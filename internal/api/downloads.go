package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"

	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/jobs"
	"github.com/scriptgen/backend/internal/links"
)

// retryAfterSeconds is sent with downloads that are still being built.
const retryAfterSeconds = "5"

// LinkVerifier checks signed archive links. *links.Signer implements it.
type LinkVerifier interface {
	Verify(token, runID string) error
}

// DownloadHandlers serves the batch and single-video download routes.
type DownloadHandlers struct {
	jobs     JobService
	statuses StatusService
	links    LinkVerifier
}

// NewDownloadHandlers builds the handlers. With a nil verifier archive
// links are served unsigned.
func NewDownloadHandlers(jobs JobService, statuses StatusService, verifier LinkVerifier) *DownloadHandlers {
	return &DownloadHandlers{jobs: jobs, statuses: statuses, links: verifier}
}

// BatchRequest is the body of POST /api/v1/download/videos.
type BatchRequest struct {
	URLs    []string `json:"urls"`
	Quality string   `json:"quality"`
}

// Submit handles POST /api/v1/download/videos
func (h *DownloadHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.jobs.SubmitBatch(r.Context(), req.URLs, req.Quality)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sub)
}

// VideoRequest is the body of the single-video download routes.
type VideoRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

// SubmitVideo handles POST /api/v1/download/video
func (h *DownloadHandlers) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req VideoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.jobs.SubmitVideo(r.Context(), req.URL, req.Quality)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sub)
}

// Direct handles POST /api/v1/download/video/direct. The video is fetched
// while the client waits and removed once it has been sent.
func (h *DownloadHandlers) Direct(w http.ResponseWriter, r *http.Request) {
	var req VideoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	video, err := h.jobs.FetchVideo(r.Context(), req.URL, req.Quality)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer video.Remove()
	serveFile(w, r, &video.DownloadedFile)
}

// ScriptVideo handles POST /api/v1/download/script/{id}/video
func (h *DownloadHandlers) ScriptVideo(w http.ResponseWriter, r *http.Request) {
	video, err := h.jobs.FetchScriptVideo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer video.Remove()
	serveFile(w, r, &video.DownloadedFile)
}

// Status handles GET /api/v1/download/status/{task_id}[?batch_id=]
func (h *DownloadHandlers) Status(w http.ResponseWriter, r *http.Request) {
	st := h.statuses.GetBatchStatus(r.Context(), r.PathValue("task_id"), r.URL.Query().Get("batch_id"))
	writeJSON(w, r, http.StatusOK, st)
}

// File handles GET /api/v1/download/file/{task_id}[?token=]. It serves
// batch archives and single videos.
func (h *DownloadHandlers) File(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("task_id")
	if h.links != nil {
		if err := h.links.Verify(r.URL.Query().Get("token"), runID); err != nil {
			msg := "invalid download link"
			if errors.Is(err, links.ErrLinkExpired) {
				msg = "download link has expired"
			}
			writeError(w, r, apperrors.InvalidToken(msg))
			return
		}
	}

	file, err := h.jobs.DownloadFile(r.Context(), runID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotReady) {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
		writeError(w, r, err)
		return
	}
	serveFile(w, r, file)
}

func serveFile(w http.ResponseWriter, r *http.Request, file *jobs.DownloadedFile) {
	f, err := os.Open(file.Path)
	if err != nil {
		writeError(w, r, apperrors.NotFound("file"))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, r, apperrors.StorageError("Failed to read file").WithCause(err))
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", attachment(file.Filename))
	http.ServeContent(w, r, file.Filename, info.ModTime(), f)
}

func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return fmt.Sprintf("attachment; filename=%q", filename)
}
