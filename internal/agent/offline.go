package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samlabs/depman/internal/config"
	"github.com/samlabs/depman/internal/models"
)

// DefaultBundleArtifact is the artifact filename assumed when a bundle
// manifest does not name one.
const DefaultBundleArtifact = "update.tar.gz"

// OfflineManifest describes an update bundle applied without a server. It
// sits next to the artifact as manifest.json. All fields are optional;
// command-line flags override anything the manifest sets.
type OfflineManifest struct {
	Version  string               `json:"version"`
	Artifact string               `json:"artifact,omitempty"`
	Checksum string               `json:"checksum,omitempty"`
	Config   *models.ClientConfig `json:"config,omitempty"`
}

// OfflineRequest is one offline apply invocation.
type OfflineRequest struct {
	ArchivePath string // path to a .tar.gz artifact
	BundleDir   string // alternatively, a directory holding artifact + manifest
	Version     string // overrides the manifest version
	Checksum    string // overrides the manifest checksum
}

// ApplyOffline runs the update transaction from a local artifact, for hosts
// that cannot reach the server. The same verify/backup/swap/restart path is
// used; only the directive source differs. No result is reported anywhere —
// the server learns the new version from the next check-in, if any.
func ApplyOffline(ctx context.Context, cfg *config.AgentConfig, req OfflineRequest, logger *slog.Logger) (Result, error) {
	var (
		archivePath = req.ArchivePath
		manifest    *OfflineManifest
		err         error
	)

	if req.BundleDir != "" {
		archivePath, manifest, err = readBundle(req.BundleDir)
		if err != nil {
			return Result{}, err
		}
	} else if archivePath != "" {
		// A bare artifact may still ship a manifest beside it.
		manifest, err = readManifest(filepath.Dir(archivePath))
		if err != nil {
			return Result{}, err
		}
	}
	if manifest == nil {
		manifest = &OfflineManifest{}
	}
	if archivePath == "" {
		return Result{}, fmt.Errorf("no artifact given: provide a file or a bundle directory")
	}
	if _, err := os.Stat(archivePath); err != nil {
		return Result{}, fmt.Errorf("artifact not readable: %w", err)
	}

	version := manifest.Version
	if req.Version != "" {
		version = req.Version
	}
	if version == "" {
		return Result{}, fmt.Errorf("no version given: set it on the command line or in manifest.json")
	}
	if err := models.ValidateSemver(version); err != nil {
		return Result{}, fmt.Errorf("invalid version %q: %w", version, err)
	}

	checksum := manifest.Checksum
	if req.Checksum != "" {
		checksum = req.Checksum
	}

	plan := NewPlan(cfg, manifest.Config, version, archivePath, checksum)
	return NewUpdater(logger).Apply(ctx, plan), nil
}

// readManifest loads manifest.json from dir if present; a missing file is
// not an error, a malformed one is.
func readManifest(dir string) (*OfflineManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	manifest := &OfflineManifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest.json: %w", err)
	}
	return manifest, nil
}

// readBundle locates the artifact inside a bundle directory. The manifest's
// artifact field names it, defaulting to update.tar.gz; without a manifest
// exactly one .tar.gz is expected.
func readBundle(dir string) (string, *OfflineManifest, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return "", nil, err
	}

	if manifest != nil {
		name := manifest.Artifact
		if name == "" {
			name = DefaultBundleArtifact
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, manifest, nil
		} else if manifest.Artifact != "" {
			return "", nil, fmt.Errorf("artifact %q named by manifest not found in bundle %s", manifest.Artifact, dir)
		}
		// No explicit name and no update.tar.gz: fall through to the glob.
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tar.gz"))
	if err != nil {
		return "", nil, err
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("no .tar.gz artifact in bundle %s", dir)
	case 1:
		if manifest == nil {
			manifest = &OfflineManifest{}
		}
		return matches[0], manifest, nil
	default:
		return "", nil, fmt.Errorf("multiple .tar.gz artifacts in bundle %s: name one in manifest.json", dir)
	}
}
