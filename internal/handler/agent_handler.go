// Package handler provides HTTP handlers for the deployment manager API.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samlabs/depman/internal/middleware"
	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/pkg/response"
	"github.com/samlabs/depman/internal/service"
)

// AgentHandler serves the endpoints agents call: check-in, result
// reporting, and artifact download.
type AgentHandler struct {
	checkinService service.CheckinService
	versionService service.VersionService
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(checkinService service.CheckinService, versionService service.VersionService) *AgentHandler {
	return &AgentHandler{
		checkinService: checkinService,
		versionService: versionService,
	}
}

// Checkin handles POST /api/checkin.
func (h *AgentHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())
	if client == nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	var req models.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	resp, err := h.checkinService.Checkin(r.Context(), client, req)
	if err != nil {
		response.Error(w, err)
		return
	}

	middleware.RecordCheckin(resp.Action == models.CheckinActionUpdate)
	response.OK(w, resp)
}

// UpdateResult handles POST /api/update-result.
func (h *AgentHandler) UpdateResult(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())
	if client == nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	var req models.UpdateResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if req.Version == "" {
		response.Error(w, apierrors.NewValidationError("version", "version is required"))
		return
	}

	resp, err := h.checkinService.ReportResult(r.Context(), client, req)
	if err != nil {
		response.Error(w, err)
		return
	}

	outcome := "failed"
	switch {
	case req.Success:
		outcome = "succeeded"
	case req.RolledBack:
		outcome = "rolled_back"
	}
	middleware.RecordUpdateResult(outcome)
	response.OK(w, resp)
}

// DownloadArtifact handles GET /api/artifacts/{version}. The blob is
// streamed with its length and checksum so agents can verify without
// buffering the whole file first.
func (h *AgentHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if version == "" {
		response.Error(w, apierrors.NewValidationError("version", "version is required"))
		return
	}

	ver, f, size, err := h.versionService.OpenArtifact(r.Context(), version)
	if err != nil {
		response.Error(w, err)
		return
	}
	defer f.Close()

	middleware.RecordArtifactDownload(ver.Version)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ver.ArtifactPath))
	w.Header().Set("X-Checksum-SHA256", ver.Checksum)
	w.WriteHeader(http.StatusOK)

	// Past this point the status line is sent; a copy error can only be logged
	// by the caller's access log as a short write.
	_, _ = io.Copy(w, f)
}
