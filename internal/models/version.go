package models

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// Version is one uploaded release. The artifact blob lives on disk at
// ArtifactPath (relative to the configured artifact directory) and is
// immutable once created; Checksum is the SHA-256 hex of its bytes,
// computed server-side at upload time.
type Version struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Version      string    `json:"version" db:"version"`
	ArtifactPath string    `json:"artifact_path" db:"artifact_path"`
	ArtifactSize int64     `json:"artifact_size" db:"artifact_size"`
	Checksum     string    `json:"checksum" db:"checksum"`
	ReleaseNotes *string   `json:"release_notes,omitempty" db:"release_notes"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ValidateSemver checks that s is a strict MAJOR.MINOR.PATCH[-pre][+build]
// version string. Partial versions ("1.2") and prefixed ones ("v1.2.3")
// are rejected.
func ValidateSemver(s string) error {
	_, err := semver.StrictNewVersion(s)
	return err
}
