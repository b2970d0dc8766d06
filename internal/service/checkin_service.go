// Package service provides business logic implementations.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samlabs/depman/internal/models"
	"github.com/samlabs/depman/internal/repository"
)

// CheckinService is the server half of the polling/deployment state machine.
// It decides, per check-in, whether a client should attempt an update, and
// reconciles the outcomes agents report back.
type CheckinService interface {
	Checkin(ctx context.Context, client *models.Client, req models.CheckinRequest) (*models.CheckinResponse, error)
	ReportResult(ctx context.Context, client *models.Client, req models.UpdateResultRequest) (*models.UpdateResultResponse, error)
}

type checkinService struct {
	clients  repository.ClientRepository
	versions repository.VersionRepository
	logs     repository.UpdateLogRepository
	logger   *slog.Logger
}

// NewCheckinService creates a new check-in service.
func NewCheckinService(
	clients repository.ClientRepository,
	versions repository.VersionRepository,
	logs repository.UpdateLogRepository,
	logger *slog.Logger,
) CheckinService {
	return &checkinService{
		clients:  clients,
		versions: versions,
		logs:     logs,
		logger:   logger,
	}
}

// Checkin runs one state-machine step. Liveness is persisted first so even a
// "none" response refreshes last_seen. A target equal to the reported
// current version yields "none" without clearing the target: only a success
// report clears it, which keeps the assignment visible to operators until
// the agent confirms.
func (s *checkinService) Checkin(ctx context.Context, client *models.Client, req models.CheckinRequest) (*models.CheckinResponse, error) {
	status := models.ClientStatus(req.Status)
	if !status.Valid() {
		status = models.ClientStatusOnline
	}

	if err := s.clients.RecordCheckin(ctx, client.ID, req.CurrentVersion, status); err != nil {
		return nil, fmt.Errorf("failed to record checkin: %w", err)
	}

	resp := &models.CheckinResponse{Action: models.CheckinActionNone}
	if !client.Config.IsZero() {
		cfg := client.Config
		resp.Config = &cfg
	}

	if client.TargetVersion == nil {
		return resp, nil
	}
	target := *client.TargetVersion
	if req.CurrentVersion != nil && *req.CurrentVersion == target {
		return resp, nil
	}

	ver, err := s.versions.GetByVersion(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to look up target version: %w", err)
	}
	if ver == nil || !ver.IsActive {
		// Target points at a missing or withdrawn version; never dispatch it.
		s.logger.Warn("target version not dispatchable",
			slog.String("client_id", client.ID.String()),
			slog.String("target_version", target),
		)
		return resp, nil
	}

	if _, err := s.logs.Create(ctx, client.ID, req.CurrentVersion, target); err != nil {
		return nil, fmt.Errorf("failed to create update log: %w", err)
	}

	s.logger.Info("dispatching update",
		slog.String("client_id", client.ID.String()),
		slog.String("target_version", target),
	)

	resp.Action = models.CheckinActionUpdate
	resp.TargetVersion = target
	resp.ArtifactURL = "/api/artifacts/" + target
	resp.Checksum = ver.Checksum
	return resp, nil
}

// ReportResult reconciles an agent's reported outcome with server state.
// Success atomically sets current_version, clears target_version, and
// completes the pending log row. Failure marks the client errored but keeps
// the target so the operator decides whether to retry or withdraw.
func (s *checkinService) ReportResult(ctx context.Context, client *models.Client, req models.UpdateResultRequest) (*models.UpdateResultResponse, error) {
	if req.Success {
		if err := s.clients.MarkSuccess(ctx, client.ID, req.Version); err != nil {
			return nil, fmt.Errorf("failed to record success: %w", err)
		}
		s.logger.Info("update succeeded",
			slog.String("client_id", client.ID.String()),
			slog.String("version", req.Version),
		)
		return &models.UpdateResultResponse{
			Message: "Update success recorded",
			Version: req.Version,
		}, nil
	}

	if err := s.clients.MarkFailure(ctx, client.ID, req.Version, req.ErrorMessage, req.RolledBack); err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	s.logger.Warn("update failed",
		slog.String("client_id", client.ID.String()),
		slog.String("version", req.Version),
		slog.Bool("rolled_back", req.RolledBack),
	)
	return &models.UpdateResultResponse{
		Message: "Update failure recorded",
		Version: req.Version,
		Error:   req.ErrorMessage,
	}, nil
}
