package models

import (
	"time"

	"github.com/google/uuid"
)

// ClientStatus represents the lifecycle state of a managed client.
type ClientStatus string

const (
	ClientStatusOnline   ClientStatus = "online"
	ClientStatusOffline  ClientStatus = "offline"
	ClientStatusUpdating ClientStatus = "updating"
	ClientStatusError    ClientStatus = "error"
)

// Valid returns true if the status is a known value.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusOnline, ClientStatusOffline, ClientStatusUpdating, ClientStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (s ClientStatus) String() string {
	return string(s)
}

// ClientConfig is the per-client deployment configuration stored on the
// server and pushed to the agent with each update directive. All fields are
// optional; a missing field means the agent uses its own defaults.
type ClientConfig struct {
	ServiceDir             string `json:"service_dir,omitempty"`
	RestartCommand         string `json:"restart_command,omitempty"`
	PreUpdateScript        string `json:"pre_update_script,omitempty"`
	PostUpdateScript       string `json:"post_update_script,omitempty"`
	HealthCheckURL         string `json:"health_check_url,omitempty"`
	HealthCheckTimeoutSecs int    `json:"health_check_timeout_secs,omitempty"`
	RollbackOnFailure      *bool  `json:"rollback_on_failure,omitempty"`
}

// IsZero reports whether no config field has been set.
func (c ClientConfig) IsZero() bool {
	return c.ServiceDir == "" &&
		c.RestartCommand == "" &&
		c.PreUpdateScript == "" &&
		c.PostUpdateScript == "" &&
		c.HealthCheckURL == "" &&
		c.HealthCheckTimeoutSecs == 0 &&
		c.RollbackOnFailure == nil
}

// Client is a registered target host managed by the deployment server.
// CurrentVersion is the version the agent last confirmed installed;
// TargetVersion is the version an operator wants deployed. TargetVersion is
// cleared only by a successful update report, never by a check-in.
type Client struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	APIKey         string       `json:"-" db:"api_key"`
	CurrentVersion *string      `json:"current_version,omitempty" db:"current_version"`
	TargetVersion  *string      `json:"target_version,omitempty" db:"target_version"`
	LastSeen       *time.Time   `json:"last_seen,omitempty" db:"last_seen"`
	Status         ClientStatus `json:"status" db:"status"`
	Config         ClientConfig `json:"config" db:"config"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}
