package models

import "github.com/google/uuid"

// Wire contract shared by the server handlers and the agent API client.
// The JSON shapes below are the protocol; both sides import this package
// so the two halves cannot drift.

// CheckinRequest is the body of POST /api/checkin.
type CheckinRequest struct {
	CurrentVersion *string `json:"current_version,omitempty"`
	Status         string  `json:"status"`
}

// CheckinActionNone and CheckinActionUpdate are the two possible directives.
const (
	CheckinActionNone   = "none"
	CheckinActionUpdate = "update"
)

// CheckinResponse is the server's directive for one check-in.
type CheckinResponse struct {
	Action        string        `json:"action"`
	TargetVersion string        `json:"target_version,omitempty"`
	ArtifactURL   string        `json:"artifact_url,omitempty"`
	Checksum      string        `json:"checksum,omitempty"`
	Config        *ClientConfig `json:"config,omitempty"`
}

// UpdateResultRequest is the body of POST /api/update-result. RolledBack
// distinguishes a failed update whose compensation restored the previous
// version from one that simply failed.
type UpdateResultRequest struct {
	Version      string  `json:"version"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RolledBack   bool    `json:"rolled_back,omitempty"`
}

// UpdateResultResponse acknowledges a result report.
type UpdateResultResponse struct {
	Message string  `json:"message"`
	Version string  `json:"version"`
	Error   *string `json:"error,omitempty"`
}

// RegisterClientRequest is the body of POST /api/clients.
type RegisterClientRequest struct {
	Name   string        `json:"name" validate:"required,min=1,max=100"`
	Config *ClientConfig `json:"config,omitempty"`
}

// RegisterClientResponse returns the generated API key exactly once.
type RegisterClientResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	APIKey string    `json:"api_key"`
}

// UpdateClientConfigRequest is the body of PUT /api/clients/{id}/config.
type UpdateClientConfigRequest struct {
	Config ClientConfig `json:"config"`
}

// DeployRequest is the body of POST /api/clients/{id}/deploy.
type DeployRequest struct {
	Version string `json:"version" validate:"required"`
}

// SetVersionActiveRequest is the body of PUT /api/versions/{version}/active.
type SetVersionActiveRequest struct {
	IsActive bool `json:"is_active"`
}
