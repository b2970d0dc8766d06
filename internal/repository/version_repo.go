package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samlabs/depman/internal/models"
)

// VersionRepository defines the interface for the version catalog.
type VersionRepository interface {
	Create(ctx context.Context, version *models.Version) error
	GetByVersion(ctx context.Context, version string) (*models.Version, error)
	List(ctx context.Context) ([]*models.Version, error)
	SetActive(ctx context.Context, version string, active bool) error
}

type versionRepo struct {
	pool *pgxpool.Pool
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(pool *pgxpool.Pool) VersionRepository {
	return &versionRepo{pool: pool}
}

const versionColumns = `id, version, artifact_path, artifact_size, checksum, release_notes, is_active, created_at`

func scanVersion(row pgx.Row) (*models.Version, error) {
	var v models.Version
	err := row.Scan(
		&v.ID,
		&v.Version,
		&v.ArtifactPath,
		&v.ArtifactSize,
		&v.Checksum,
		&v.ReleaseNotes,
		&v.IsActive,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a new version row. Versions are immutable after creation;
// the unique constraint on the semver string backs the 409 on re-upload.
func (r *versionRepo) Create(ctx context.Context, version *models.Version) error {
	query := `
		INSERT INTO versions (id, version, artifact_path, artifact_size, checksum, release_notes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING is_active, created_at`

	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}

	return r.pool.QueryRow(ctx, query,
		version.ID,
		version.Version,
		version.ArtifactPath,
		version.ArtifactSize,
		version.Checksum,
		version.ReleaseNotes,
	).Scan(&version.IsActive, &version.CreatedAt)
}

// GetByVersion retrieves a version by its semver string.
func (r *versionRepo) GetByVersion(ctx context.Context, version string) (*models.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE version = $1`
	return scanVersion(r.pool.QueryRow(ctx, query, version))
}

// List returns all versions, newest first.
func (r *versionRepo) List(ctx context.Context) ([]*models.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// SetActive toggles whether a version may be dispatched to clients.
func (r *versionRepo) SetActive(ctx context.Context, version string, active bool) error {
	query := `UPDATE versions SET is_active = $2 WHERE version = $1`
	_, err := r.pool.Exec(ctx, query, version, active)
	return err
}
