package validators

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/scriptgen/backend/internal/errors"
)

// Handlers exposes the registry so clients can check a link before
// submitting it.
type Handlers struct {
	registry *Registry
}

func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// SupportedSourcesResponse is the response for listing supported sources
type SupportedSourcesResponse struct {
	Sources []SourceType `json:"sources"`
}

// ValidateURL handles GET /api/v1/validate?url=...
func (h *Handlers) ValidateURL(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())
	raw := r.URL.Query().Get("url")
	if raw == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("url query parameter is required"))
		return
	}

	result := h.registry.Validate(raw)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	apperrors.WriteJSON(w, requestID, status, result)
}

// GetSupportedSources handles GET /api/v1/validate/sources
func (h *Handlers) GetSupportedSources(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SupportedSourcesResponse{Sources: h.registry.GetSupportedSources()})
}
