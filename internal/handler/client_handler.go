package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/pkg/response"
	"github.com/samlabs/depman/internal/service"
)

// ClientHandler serves the admin client-registry endpoints.
type ClientHandler struct {
	clientService service.ClientService
	validate      *validator.Validate
}

// NewClientHandler creates a new client handler.
func NewClientHandler(clientService service.ClientService) *ClientHandler {
	return &ClientHandler{
		clientService: clientService,
		validate:      validator.New(),
	}
}

// Routes returns a chi router with client registry routes.
func (h *ClientHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/config", h.UpdateConfig)
	r.Post("/{id}/deploy", h.Deploy)
	r.Get("/{id}/updates", h.UpdateHistory)

	return r
}

// Register handles POST /api/clients.
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.NewValidationError("name", "name is required (1-100 characters)"))
		return
	}

	client, err := h.clientService.Register(r.Context(), req.Name, req.Config)
	if err != nil {
		response.Error(w, err)
		return
	}

	// The only response that ever carries the key in clear.
	response.Created(w, models.RegisterClientResponse{
		ID:     client.ID,
		Name:   client.Name,
		APIKey: client.APIKey,
	})
}

// List handles GET /api/clients.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clientService.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if clients == nil {
		clients = []*models.Client{}
	}
	response.OK(w, clients)
}

// Get handles GET /api/clients/{id}.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	client, err := h.clientService.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, client)
}

// UpdateConfig handles PUT /api/clients/{id}/config.
func (h *ClientHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	var req models.UpdateClientConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if err := h.clientService.UpdateConfig(r.Context(), id, req.Config); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"message": "Config updated"})
}

// Deploy handles POST /api/clients/{id}/deploy.
func (h *ClientHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	var req models.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if req.Version == "" {
		response.Error(w, apierrors.NewValidationError("version", "version is required"))
		return
	}

	if err := h.clientService.Deploy(r.Context(), id, req.Version); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{
		"message":        "Deployment queued",
		"target_version": req.Version,
	})
}

// UpdateHistory handles GET /api/clients/{id}/updates.
func (h *ClientHandler) UpdateHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	logs, err := h.clientService.UpdateHistory(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if logs == nil {
		logs = []*models.UpdateLog{}
	}
	response.OK(w, logs)
}
