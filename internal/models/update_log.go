package models

import (
	"time"

	"github.com/google/uuid"
)

// UpdateLogStatus tracks one dispatched update attempt.
type UpdateLogStatus string

const (
	UpdateStatusPending     UpdateLogStatus = "pending"
	UpdateStatusDownloading UpdateLogStatus = "downloading"
	UpdateStatusInstalling  UpdateLogStatus = "installing"
	UpdateStatusCompleted   UpdateLogStatus = "completed"
	UpdateStatusFailed      UpdateLogStatus = "failed"
	UpdateStatusRolledBack  UpdateLogStatus = "rolled_back"
)

// Terminal reports whether the status is final. Terminal rows are never
// rewritten and always carry CompletedAt.
func (s UpdateLogStatus) Terminal() bool {
	switch s {
	case UpdateStatusCompleted, UpdateStatusFailed, UpdateStatusRolledBack:
		return true
	default:
		return false
	}
}

// UpdateLog records one update directive from dispatch to terminal outcome.
// A row created at dispatch time may stay pending forever if the agent dies
// mid-transaction; that is an accepted state.
type UpdateLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ClientID     uuid.UUID       `json:"client_id" db:"client_id"`
	FromVersion  *string         `json:"from_version,omitempty" db:"from_version"`
	ToVersion    string          `json:"to_version" db:"to_version"`
	Status       UpdateLogStatus `json:"status" db:"status"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
