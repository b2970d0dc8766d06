package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/pkg/response"
	"github.com/samlabs/depman/internal/service"
)

// maxUploadSize caps artifact uploads at 512 MiB. Release tarballs for the
// services this manages are tens of megabytes; anything near the cap is a
// mistake, not a release.
const maxUploadSize = 512 << 20

// VersionHandler serves the admin version catalog endpoints.
type VersionHandler struct {
	versionService service.VersionService
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(versionService service.VersionService) *VersionHandler {
	return &VersionHandler{versionService: versionService}
}

// Routes returns a chi router with version catalog routes.
func (h *VersionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Upload)
	r.Get("/", h.List)
	r.Get("/{version}", h.Get)
	r.Put("/{version}/active", h.SetActive)

	return r
}

// Upload handles POST /api/versions. The body is multipart/form-data with a
// "version" field, an "artifact" file, and an optional "release_notes" field.
func (h *VersionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid multipart form"))
		return
	}

	version := r.FormValue("version")
	if version == "" {
		response.Error(w, apierrors.NewValidationError("version", "version is required"))
		return
	}

	file, header, err := r.FormFile("artifact")
	if err != nil {
		response.Error(w, apierrors.NewValidationError("artifact", "artifact file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Failed to read artifact"))
		return
	}

	var releaseNotes *string
	if notes := r.FormValue("release_notes"); notes != "" {
		releaseNotes = &notes
	}

	ver, err := h.versionService.Upload(r.Context(), service.UploadVersionRequest{
		Version:      version,
		FileName:     header.Filename,
		Data:         data,
		ReleaseNotes: releaseNotes,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, ver)
}

// List handles GET /api/versions.
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.versionService.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if versions == nil {
		versions = []*models.Version{}
	}
	response.OK(w, versions)
}

// Get handles GET /api/versions/{version}.
func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	ver, err := h.versionService.Get(r.Context(), version)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, ver)
}

// SetActive handles PUT /api/versions/{version}/active. Deactivated versions
// stay in the catalog but are never dispatched.
func (h *VersionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	var req models.SetVersionActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if err := h.versionService.SetActive(r.Context(), version, req.IsActive); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{
		"version":   version,
		"is_active": req.IsActive,
	})
}
