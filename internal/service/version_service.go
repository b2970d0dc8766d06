package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/samlabs/depman/internal/artifact"
	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/repository"
)

// VersionService owns the version catalog and its artifact blobs.
type VersionService interface {
	Upload(ctx context.Context, req UploadVersionRequest) (*models.Version, error)
	Get(ctx context.Context, version string) (*models.Version, error)
	List(ctx context.Context) ([]*models.Version, error)
	SetActive(ctx context.Context, version string, active bool) error
	OpenArtifact(ctx context.Context, version string) (*models.Version, *os.File, int64, error)
}

// UploadVersionRequest carries one fully buffered artifact upload.
type UploadVersionRequest struct {
	Version      string
	FileName     string
	Data         []byte
	ReleaseNotes *string
}

type versionService struct {
	versions repository.VersionRepository
	store    *artifact.Store
	logger   *slog.Logger
}

// NewVersionService creates a new version service.
func NewVersionService(versions repository.VersionRepository, store *artifact.Store, logger *slog.Logger) VersionService {
	return &versionService{versions: versions, store: store, logger: logger}
}

// Upload validates, hashes, stores, and catalogs one release. The checksum
// is always recomputed from the received bytes, never taken from the
// uploader. Blobs are written before the catalog row so a crash between the
// two leaves an orphan blob, never a dangling row.
func (s *versionService) Upload(ctx context.Context, req UploadVersionRequest) (*models.Version, error) {
	if err := models.ValidateSemver(req.Version); err != nil {
		return nil, apierrors.NewValidationError("version", fmt.Sprintf("invalid semver: %v", err))
	}

	existing, err := s.versions.GetByVersion(ctx, req.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing version: %w", err)
	}
	if existing != nil {
		return nil, apierrors.NewConflictError(fmt.Sprintf("Version %s already exists", req.Version))
	}

	name := artifact.Filename(req.Version, req.FileName)
	checksum := artifact.Checksum(req.Data)
	if err := s.store.Save(name, req.Data); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	ver := &models.Version{
		Version:      req.Version,
		ArtifactPath: name,
		ArtifactSize: int64(len(req.Data)),
		Checksum:     checksum,
		ReleaseNotes: req.ReleaseNotes,
	}
	if err := s.versions.Create(ctx, ver); err != nil {
		return nil, fmt.Errorf("failed to create version row: %w", err)
	}

	s.logger.Info("version uploaded",
		slog.String("version", ver.Version),
		slog.Int64("size", ver.ArtifactSize),
		slog.String("checksum", ver.Checksum),
	)
	return ver, nil
}

// Get returns one catalog entry.
func (s *versionService) Get(ctx context.Context, version string) (*models.Version, error) {
	ver, err := s.versions.GetByVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	if ver == nil {
		return nil, apierrors.NewNotFoundError("Version")
	}
	return ver, nil
}

// List returns the full catalog.
func (s *versionService) List(ctx context.Context) ([]*models.Version, error) {
	return s.versions.List(ctx)
}

// SetActive toggles dispatchability of a version.
func (s *versionService) SetActive(ctx context.Context, version string, active bool) error {
	ver, err := s.versions.GetByVersion(ctx, version)
	if err != nil {
		return err
	}
	if ver == nil {
		return apierrors.NewNotFoundError("Version")
	}
	return s.versions.SetActive(ctx, version, active)
}

// OpenArtifact resolves a version and opens its blob for streaming. A
// catalog row whose blob has vanished is a critical inconsistency: it is
// logged at error level and surfaced as artifact_missing, never swallowed.
func (s *versionService) OpenArtifact(ctx context.Context, version string) (*models.Version, *os.File, int64, error) {
	ver, err := s.versions.GetByVersion(ctx, version)
	if err != nil {
		return nil, nil, 0, err
	}
	if ver == nil {
		return nil, nil, 0, apierrors.NewNotFoundError("Version")
	}

	f, size, err := s.store.Open(ver.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Error("artifact blob missing for catalogued version",
				slog.String("version", ver.Version),
				slog.String("artifact_path", ver.ArtifactPath),
			)
			return nil, nil, 0, apierrors.ErrArtifactMissing
		}
		return nil, nil, 0, err
	}
	return ver, f, size, nil
}
