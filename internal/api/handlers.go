package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/scriptgen/backend/internal/db"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/jobs"
	"github.com/scriptgen/backend/internal/status"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// JobService is the submission and query surface of *jobs.Service.
type JobService interface {
	SubmitTranscription(ctx context.Context, sourceURL string) (*jobs.Submission, error)
	SubmitBatch(ctx context.Context, urls []string, quality string) (*jobs.Submission, error)
	SubmitVideo(ctx context.Context, sourceURL, quality string) (*jobs.Submission, error)
	ListScripts(ctx context.Context, skip, limit int) (*jobs.ScriptPage, error)
	GetScript(ctx context.Context, id string) (*db.Script, error)
	ExportScript(ctx context.Context, id, format string) (*jobs.Export, error)
	DownloadFile(ctx context.Context, runID string) (*jobs.DownloadedFile, error)
	FetchVideo(ctx context.Context, sourceURL, quality string) (*jobs.VideoFile, error)
	FetchScriptVideo(ctx context.Context, scriptID string) (*jobs.VideoFile, error)
}

// StatusService is implemented by *status.Reconciler.
type StatusService interface {
	GetStatus(ctx context.Context, runID, jobID string) *status.NormalizedStatus
	GetBatchStatus(ctx context.Context, runID, jobID string) *status.NormalizedStatus
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), code, v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.BadRequest("request body is required")
		}
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationError(name + " must be an integer")
	}
	return n, nil
}

// TranscribeHandlers serves single-video transcription routes.
type TranscribeHandlers struct {
	jobs     JobService
	statuses StatusService
}

func NewTranscribeHandlers(jobs JobService, statuses StatusService) *TranscribeHandlers {
	return &TranscribeHandlers{jobs: jobs, statuses: statuses}
}

// TranscribeRequest is the body of POST /api/v1/transcribe.
type TranscribeRequest struct {
	VideoURL string `json:"video_url"`
}

// Submit handles POST /api/v1/transcribe
func (h *TranscribeHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.VideoURL == "" {
		writeError(w, r, apperrors.ValidationError("video_url is required"))
		return
	}

	sub, err := h.jobs.SubmitTranscription(r.Context(), req.VideoURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sub)
}

// Status handles GET /api/v1/transcribe/status/{task_id}[?script_id=]
func (h *TranscribeHandlers) Status(w http.ResponseWriter, r *http.Request) {
	st := h.statuses.GetStatus(r.Context(), r.PathValue("task_id"), r.URL.Query().Get("script_id"))
	writeJSON(w, r, http.StatusOK, st)
}

// ScriptHandlers serves stored transcripts.
type ScriptHandlers struct {
	jobs JobService
}

func NewScriptHandlers(jobs JobService) *ScriptHandlers {
	return &ScriptHandlers{jobs: jobs}
}

// List handles GET /api/v1/scripts?skip=&limit=
func (h *ScriptHandlers) List(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", jobs.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.jobs.ListScripts(r.Context(), skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

// Get handles GET /api/v1/scripts/{id}
func (h *ScriptHandlers) Get(w http.ResponseWriter, r *http.Request) {
	script, err := h.jobs.GetScript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, jobs.NewScriptView(script))
}

// Download handles GET /api/v1/scripts/{id}/download?format=txt|json
func (h *ScriptHandlers) Download(w http.ResponseWriter, r *http.Request) {
	export, err := h.jobs.ExportScript(r.Context(), r.PathValue("id"), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", attachment(export.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Body)
}
