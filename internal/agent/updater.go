package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/samlabs/depman/internal/config"
	"github.com/samlabs/depman/internal/models"
)

// Outcome classifies how one update attempt ended.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

const (
	restartTimeout            = 60 * time.Second
	scriptTimeout             = 120 * time.Second
	defaultHealthCheckTimeout = 60 * time.Second
	healthCheckSettle         = 5 * time.Second
)

// Plan is everything one update attempt needs, resolved from the agent's
// local configuration with server-pushed per-client config layered on top.
type Plan struct {
	Version            string
	ArchivePath        string // already-downloaded artifact
	Checksum           string // expected SHA-256, empty means skip verification
	ServiceDir         string
	BackupDir          string
	RestartCommand     string
	PreUpdateScript    string
	PostUpdateScript   string
	HealthCheckURL     string
	HealthCheckCommand string
	HealthCheckTimeout time.Duration
	RollbackOnFailure  bool
}

// NewPlan resolves an update plan. Server config wins over local config for
// the fields it sets; rollback defaults to on.
func NewPlan(cfg *config.AgentConfig, remote *models.ClientConfig, version, archivePath, checksum string) Plan {
	p := Plan{
		Version:            version,
		ArchivePath:        archivePath,
		Checksum:           checksum,
		ServiceDir:         cfg.ServiceDir,
		BackupDir:          cfg.BackupDir,
		RestartCommand:     cfg.RestartCommand,
		HealthCheckCommand: cfg.HealthCheckCommand,
		HealthCheckTimeout: defaultHealthCheckTimeout,
		RollbackOnFailure:  true,
	}
	if remote == nil {
		return p
	}
	if remote.ServiceDir != "" {
		p.ServiceDir = remote.ServiceDir
	}
	if remote.RestartCommand != "" {
		p.RestartCommand = remote.RestartCommand
	}
	p.PreUpdateScript = remote.PreUpdateScript
	p.PostUpdateScript = remote.PostUpdateScript
	p.HealthCheckURL = remote.HealthCheckURL
	if remote.HealthCheckTimeoutSecs > 0 {
		p.HealthCheckTimeout = time.Duration(remote.HealthCheckTimeoutSecs) * time.Second
	}
	if remote.RollbackOnFailure != nil {
		p.RollbackOnFailure = *remote.RollbackOnFailure
	}
	return p
}

// Result is the terminal state of one update attempt, ready to be reported.
type Result struct {
	Version string
	Outcome Outcome
	Err     error
}

// ToReport converts a result to the wire form.
func (r Result) ToReport() models.UpdateResultRequest {
	req := models.UpdateResultRequest{
		Version: r.Version,
		Success: r.Outcome == OutcomeSucceeded,
	}
	if r.Err != nil {
		msg := r.Err.Error()
		req.ErrorMessage = &msg
	}
	req.RolledBack = r.Outcome == OutcomeRolledBack
	return req
}

// Updater executes update transactions against a service directory.
type Updater struct {
	logger *slog.Logger
	health *http.Client
}

// NewUpdater creates an updater.
func NewUpdater(logger *slog.Logger) *Updater {
	return &Updater{
		logger: logger,
		health: &http.Client{Timeout: 10 * time.Second},
	}
}

// Apply runs the full update transaction: verify, back up, stage, swap,
// restart, health-check. Any failure after the swap triggers compensation
// that restores the backup, unless rollback is disabled. The returned
// Result is always terminal; Apply never leaves a half-swapped tree behind.
func (u *Updater) Apply(ctx context.Context, plan Plan) Result {
	result := u.apply(ctx, plan)
	result.Version = plan.Version
	return result
}

func (u *Updater) apply(ctx context.Context, plan Plan) Result {
	log := u.logger.With(slog.String("version", plan.Version), slog.String("service_dir", plan.ServiceDir))
	log.Info("starting update")

	if err := u.verifyChecksum(plan, log); err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	oldVersion, err := ReadVersionFile(plan.ServiceDir)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to read version marker: %w", err)}
	}

	backupPath, err := u.backup(plan, oldVersion, log)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	staging, err := u.stage(plan, log)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	defer os.RemoveAll(staging)

	// The pre-update script runs once the new tree is staged, so it can
	// inspect both the running service and the incoming release before
	// anything is replaced. A failure here aborts with the service intact.
	if plan.PreUpdateScript != "" {
		if err := runCommand(ctx, plan.PreUpdateScript, plan.ServiceDir, scriptTimeout); err != nil {
			return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("pre-update script failed: %w", err)}
		}
	}

	// Point of no return: from here on every failure path must either
	// complete or roll back to the backup.
	if err := u.swap(plan, staging); err != nil {
		return u.compensate(ctx, plan, backupPath, oldVersion, log,
			fmt.Errorf("failed to swap service directory: %w", err))
	}

	if err := WriteVersionFile(plan.ServiceDir, plan.Version); err != nil {
		return u.compensate(ctx, plan, backupPath, oldVersion, log,
			fmt.Errorf("failed to write version marker: %w", err))
	}

	if err := runCommand(ctx, plan.RestartCommand, plan.ServiceDir, restartTimeout); err != nil {
		return u.compensate(ctx, plan, backupPath, oldVersion, log,
			fmt.Errorf("restart command failed: %w", err))
	}

	if err := u.healthCheck(ctx, plan); err != nil {
		return u.compensate(ctx, plan, backupPath, oldVersion, log,
			fmt.Errorf("health check failed after update: %w", err))
	}

	if plan.PostUpdateScript != "" {
		// Post-update failures are reported but do not trigger rollback; the
		// new version is already verified healthy.
		if err := runCommand(ctx, plan.PostUpdateScript, plan.ServiceDir, scriptTimeout); err != nil {
			log.Warn("post-update script failed", slog.String("error", err.Error()))
		}
	}

	log.Info("update completed")
	return Result{Outcome: OutcomeSucceeded}
}

// verifyChecksum compares the downloaded artifact against the expected
// digest. An empty expectation skips verification with a warning; offline
// bundles may legitimately lack one.
func (u *Updater) verifyChecksum(plan Plan, log *slog.Logger) error {
	if plan.Checksum == "" {
		log.Warn("no checksum provided, skipping artifact verification")
		return nil
	}

	f, err := os.Open(plan.ArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != plan.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", plan.Checksum, got)
	}
	return nil
}

// backup copies the current service directory into the backup directory,
// named backup_<oldversion>_<timestamp>. A missing service directory (first
// install) yields no backup.
func (u *Updater) backup(plan Plan, oldVersion *string, log *slog.Logger) (string, error) {
	if _, err := os.Stat(plan.ServiceDir); os.IsNotExist(err) {
		log.Info("no existing service directory, skipping backup")
		return "", nil
	}

	from := "unknown"
	if oldVersion != nil {
		from = *oldVersion
	}
	name := fmt.Sprintf("backup_%s_%s", from, time.Now().Format("20060102_150405"))
	backupPath := filepath.Join(plan.BackupDir, name)

	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := CopyDir(plan.ServiceDir, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up service directory: %w", err)
	}

	log.Info("backup created", slog.String("backup_path", backupPath))
	return backupPath, nil
}

// stage extracts the artifact into a sibling of the service directory so
// the final swap is a same-filesystem rename.
func (u *Updater) stage(plan Plan, log *slog.Logger) (string, error) {
	staging := plan.ServiceDir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := ExtractTarGz(plan.ArchivePath, staging); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("failed to extract artifact: %w", err)
	}
	if err := NormalizeExtractedDir(staging); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("failed to normalize extracted tree: %w", err)
	}

	log.Info("artifact staged", slog.String("staging_path", staging))
	return staging, nil
}

// swap atomically replaces the service directory with the staged tree. The
// old tree is moved aside first so a failed second rename can be undone.
func (u *Updater) swap(plan Plan, staging string) error {
	aside := plan.ServiceDir + ".old"
	os.RemoveAll(aside)

	hadOld := true
	if err := os.Rename(plan.ServiceDir, aside); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		hadOld = false
	}

	if err := os.Rename(staging, plan.ServiceDir); err != nil {
		if hadOld {
			// Put the old tree back; the backup still exists if this fails too.
			os.Rename(aside, plan.ServiceDir)
		}
		return err
	}

	if hadOld {
		os.RemoveAll(aside)
	}
	return nil
}

// compensate rolls the service directory back to the backup and re-runs the
// restart command, then classifies the attempt. With rollback disabled or
// no backup available the failure is reported as-is.
func (u *Updater) compensate(ctx context.Context, plan Plan, backupPath string, oldVersion *string, log *slog.Logger, cause error) Result {
	log.Error("update failed", slog.String("error", cause.Error()))

	if !plan.RollbackOnFailure {
		log.Warn("rollback disabled, leaving service as-is")
		return Result{Outcome: OutcomeFailed, Err: cause}
	}
	if backupPath == "" {
		log.Warn("no backup to roll back to")
		return Result{Outcome: OutcomeFailed, Err: cause}
	}

	if err := os.RemoveAll(plan.ServiceDir); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%v (rollback failed: %v)", cause, err)}
	}
	if err := os.MkdirAll(plan.ServiceDir, 0o755); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%v (rollback failed: %v)", cause, err)}
	}
	if err := CopyDir(backupPath, plan.ServiceDir); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%v (rollback failed: %v)", cause, err)}
	}

	if oldVersion != nil {
		if err := WriteVersionFile(plan.ServiceDir, *oldVersion); err != nil {
			log.Warn("failed to restore version marker", slog.String("error", err.Error()))
		}
	} else {
		os.Remove(filepath.Join(plan.ServiceDir, VersionFileName))
	}

	if err := runCommand(ctx, plan.RestartCommand, plan.ServiceDir, restartTimeout); err != nil {
		log.Error("restart after rollback failed", slog.String("error", err.Error()))
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%v (restart after rollback failed: %v)", cause, err)}
	}

	log.Info("rolled back to previous version")
	return Result{Outcome: OutcomeRolledBack, Err: cause}
}

// healthCheck waits for the service to settle, then probes it. A configured
// URL takes precedence over a command; with neither, restart success is
// trusted.
func (u *Updater) healthCheck(ctx context.Context, plan Plan) error {
	if plan.HealthCheckURL == "" && plan.HealthCheckCommand == "" {
		return nil
	}

	select {
	case <-time.After(healthCheckSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.Now().Add(plan.HealthCheckTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := u.probe(ctx, plan); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("service not healthy within %s: %w", plan.HealthCheckTimeout, lastErr)
}

func (u *Updater) probe(ctx context.Context, plan Plan) error {
	if plan.HealthCheckURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, plan.HealthCheckURL, nil)
		if err != nil {
			return err
		}
		resp, err := u.health.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health endpoint returned %s", resp.Status)
		}
		return nil
	}
	return runCommand(ctx, plan.HealthCheckCommand, plan.ServiceDir, 10*time.Second)
}

// runCommand executes a shell command with a timeout, from workDir.
func runCommand(ctx context.Context, command, workDir string, timeout time.Duration) error {
	if command == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	if _, err := os.Stat(workDir); err == nil {
		cmd.Dir = workDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command %q timed out after %s", command, timeout)
		}
		return fmt.Errorf("command %q failed: %v: %s", command, err, truncate(string(out), 512))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
