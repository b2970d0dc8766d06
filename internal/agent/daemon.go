package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/samlabs/depman/internal/config"
	"github.com/samlabs/depman/internal/models"
)

// Daemon is the agent's polling loop: check in, apply any directive, report
// the outcome, sleep, repeat. Server unavailability is logged and retried on
// the next tick; the loop itself never dies.
type Daemon struct {
	cfg     *config.AgentConfig
	api     *APIClient
	updater *Updater
	logger  *slog.Logger
}

// NewDaemon creates a polling daemon.
func NewDaemon(cfg *config.AgentConfig, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		api:     NewAPIClient(cfg.ServerURL, cfg.APIKey),
		updater: NewUpdater(logger),
		logger:  logger,
	}
}

// Run polls until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("agent started",
		slog.String("server_url", d.cfg.ServerURL),
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.String("service_dir", d.cfg.ServiceDir),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// First check-in happens immediately, not one interval in.
	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) tick(ctx context.Context) {
	current, err := ReadVersionFile(d.cfg.ServiceDir)
	if err != nil {
		d.logger.Error("failed to read version marker", slog.String("error", err.Error()))
		return
	}

	resp, err := d.api.Checkin(ctx, current, string(models.ClientStatusOnline))
	if err != nil {
		d.logger.Warn("check-in failed", slog.String("error", err.Error()))
		return
	}

	if resp.Action != models.CheckinActionUpdate {
		d.logger.Debug("no update pending")
		return
	}

	d.logger.Info("update directive received", slog.String("target_version", resp.TargetVersion))
	result := d.runUpdate(ctx, resp)

	report := result.ToReport()
	if err := d.api.ReportResult(ctx, report); err != nil {
		// The server reconciles on the next check-in; current_version in the
		// poll body carries the truth even if this report is lost.
		d.logger.Warn("failed to report update result", slog.String("error", err.Error()))
	}

	if result.Err != nil {
		d.logger.Error("update attempt finished",
			slog.String("outcome", string(result.Outcome)),
			slog.String("error", result.Err.Error()),
		)
	}
}

func (d *Daemon) runUpdate(ctx context.Context, directive *models.CheckinResponse) Result {
	tmpDir, err := os.MkdirTemp("", "dm-update-*")
	if err != nil {
		return Result{Version: directive.TargetVersion, Outcome: OutcomeFailed, Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, directive.TargetVersion+".tar.gz")
	if err := d.api.DownloadArtifact(ctx, directive.ArtifactURL, archivePath); err != nil {
		return Result{Version: directive.TargetVersion, Outcome: OutcomeFailed, Err: err}
	}

	plan := NewPlan(d.cfg, directive.Config, directive.TargetVersion, archivePath, directive.Checksum)
	return d.updater.Apply(ctx, plan)
}
