package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/pkg/token"
	"github.com/samlabs/depman/internal/repository"
)

// ClientService implements the admin-facing client registry operations.
type ClientService interface {
	Register(ctx context.Context, name string, cfg *models.ClientConfig) (*models.Client, error)
	List(ctx context.Context) ([]*models.Client, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Client, error)
	UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error
	Deploy(ctx context.Context, id uuid.UUID, version string) error
	UpdateHistory(ctx context.Context, id uuid.UUID) ([]*models.UpdateLog, error)
}

type clientService struct {
	clients  repository.ClientRepository
	versions repository.VersionRepository
	logs     repository.UpdateLogRepository
	logger   *slog.Logger
}

// NewClientService creates a new client service.
func NewClientService(
	clients repository.ClientRepository,
	versions repository.VersionRepository,
	logs repository.UpdateLogRepository,
	logger *slog.Logger,
) ClientService {
	return &clientService{
		clients:  clients,
		versions: versions,
		logs:     logs,
		logger:   logger,
	}
}

// Register creates a client with a freshly generated API key. The key is
// returned to the caller exactly once.
func (s *clientService) Register(ctx context.Context, name string, cfg *models.ClientConfig) (*models.Client, error) {
	apiKey, err := token.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	client := &models.Client{
		Name:   name,
		APIKey: apiKey,
	}
	if cfg != nil {
		client.Config = *cfg
	}
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to register client: %w", err)
	}

	s.logger.Info("client registered",
		slog.String("client_id", client.ID.String()),
		slog.String("name", client.Name),
	)
	return client, nil
}

// List returns all registered clients.
func (s *clientService) List(ctx context.Context) ([]*models.Client, error) {
	return s.clients.List(ctx)
}

// Get returns one client.
func (s *clientService) Get(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apierrors.NewNotFoundError("Client")
	}
	return client, nil
}

// UpdateConfig replaces a client's deployment configuration.
func (s *clientService) UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.clients.UpdateConfig(ctx, id, cfg)
}

// Deploy assigns a target version to a client. The version must exist in
// the catalog; the directive itself is delivered on the client's next
// check-in.
func (s *clientService) Deploy(ctx context.Context, id uuid.UUID, version string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	ver, err := s.versions.GetByVersion(ctx, version)
	if err != nil {
		return err
	}
	if ver == nil {
		return apierrors.NewNotFoundError("Version")
	}

	if err := s.clients.SetTargetVersion(ctx, id, version); err != nil {
		return fmt.Errorf("failed to set target version: %w", err)
	}

	s.logger.Info("deploy queued",
		slog.String("client_id", id.String()),
		slog.String("target_version", version),
	)
	return nil
}

// UpdateHistory returns a client's update log, newest first.
func (s *clientService) UpdateHistory(ctx context.Context, id uuid.UUID) ([]*models.UpdateLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByClient(ctx, id)
}
